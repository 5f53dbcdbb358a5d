package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStabilityTracker(t *testing.T) {
	s := NewStabilityTracker(3)
	assert.False(t, s.Observe("a"))
	assert.False(t, s.Observe("a"))
	assert.False(t, s.Observe("b"), "a different read restarts the count")
	assert.Equal(t, 1, s.Count())
	assert.False(t, s.Observe("b"))
	assert.True(t, s.Observe("b"))
	assert.True(t, s.Observe("b"))

	s.Reset()
	assert.Equal(t, 0, s.Count())
	assert.False(t, s.Observe(""))

	one := NewStabilityTracker(0)
	assert.True(t, one.Observe("x"), "a requirement below one is treated as one")
}
