package adb

// Android keycodes used with `input keyevent`.
const (
	KeycodeHome       = 3
	KeycodeBack       = 4
	KeycodeDpadUp     = 19
	KeycodeDpadDown   = 20
	KeycodeDpadLeft   = 21
	KeycodeDpadRight  = 22
	KeycodeVolumeUp   = 24
	KeycodeVolumeDown = 25
	KeycodeTab        = 61
	KeycodeSpace      = 62
	KeycodeEnter      = 66
	KeycodeDel        = 67 // Backspace
	KeycodeEscape     = 111
	KeycodeForwardDel = 112 // Delete
	KeycodeMoveEnd    = 123
	KeycodeWakeup     = 224
)
