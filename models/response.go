package models

// APIResponse is the envelope every HTTP handler answers with.
type APIResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

func SuccessResponse(data any) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

func ErrorResponse(err string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   err,
	}
}

// ErrorResponseFrom classifies err through the automation error taxonomy.
func ErrorResponseFrom(err error) APIResponse {
	resp := ErrorResponse(err.Error())
	if kind := KindOf(err); kind != KindUnknown {
		resp.ErrorKind = kind.String()
	}
	return resp
}

func MessageResponse(message string) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
	}
}
