package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{499 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), tt.d.String())
	}
}

func TestCircularBuffer_KeepsNewestInOrder(t *testing.T) {
	buf := NewCircularBuffer[string](3)
	assert.Empty(t, buf.Items())

	for _, q := range []string{"q1", "q2", "q3", "q4", "q5"} {
		buf.Add(q)
	}

	assert.Equal(t, []string{"q3", "q4", "q5"}, buf.Items())
	assert.Equal(t, 3, buf.Size())
}

type collectRecorder struct{ events []QueryEvent }

func (c *collectRecorder) RecordQuery(ev QueryEvent) { c.events = append(c.events, ev) }

func TestMulti_FansOutAndSkipsNil(t *testing.T) {
	a, b := &collectRecorder{}, &collectRecorder{}
	r := Multi(a, nil, b)

	r.RecordQuery(QueryEvent{Query: "q"})

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}
