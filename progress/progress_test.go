package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type event struct{ n int }

func TestNewTrackerFiltersByType(t *testing.T) {
	var got []int
	tr := NewTracker(func(e event) { got = append(got, e.n) })
	tr.OnEvent(event{n: 1})
	tr.OnEvent("ignored")
	tr.OnEvent(event{n: 2})
	assert.Equal(t, []int{1, 2}, got)

	Nop.OnEvent(event{n: 3})
}
