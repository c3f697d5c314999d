package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricValid(t *testing.T) {
	for _, m := range Metrics() {
		assert.True(t, m.Valid(), m)
	}
	assert.Len(t, Metrics(), 5)

	for _, m := range []Metric{"", "exploded", "Played"} {
		assert.False(t, m.Valid(), m)
	}
}
