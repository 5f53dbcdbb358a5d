package service

// StabilityTracker counts consecutive identical observations of the response
// area. Any different observation restarts the count at one.
type StabilityTracker struct {
	required int
	last     string
	count    int
}

func NewStabilityTracker(required int) *StabilityTracker {
	if required < 1 {
		required = 1
	}
	return &StabilityTracker{required: required}
}

// Observe records key and reports whether the last `required` reads matched.
func (s *StabilityTracker) Observe(key string) bool {
	if s.count > 0 && key == s.last {
		s.count++
	} else {
		s.last = key
		s.count = 1
	}
	return s.count >= s.required
}

func (s *StabilityTracker) Count() int { return s.count }

func (s *StabilityTracker) Reset() {
	s.last = ""
	s.count = 0
}
