package fieldwork

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldproof-backend/core/fieldwork"
)

func TestEventBusRing(t *testing.T) {
	bus := NewEventBus(3)
	var seen int
	bus.Subscribe(func(fieldwork.Event) { seen++ })
	for i := 1; i <= 5; i++ {
		bus.Publish(fieldwork.Event{TaskID: fmt.Sprintf("task-%d", i%2), Version: int64(i)})
	}
	assert.Equal(t, 5, seen)

	all := bus.Recent("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{all[0].Version, all[1].Version, all[2].Version})

	odd := bus.Recent("task-1", 0)
	require.Len(t, odd, 2)
	assert.Equal(t, int64(5), odd[1].Version)
	assert.Len(t, bus.Recent("", 1), 1)
}

func TestTaskQRCode(t *testing.T) {
	h := newHarness(t)
	agg := h.posted(t)

	link := DeepLink(agg.Task)
	assert.Equal(t, "fieldproof://task/"+agg.Task.TaskID+"?lat=51.507200&lon=-0.127600&r=150", link)

	png, err := h.engine.TaskQRCode(context.Background(), agg.Task.TaskID, 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))

	_, err = h.engine.TaskQRCode(context.Background(), "task-missing", 128)
	assert.ErrorIs(t, err, fieldwork.ErrNotFound)
}

func TestMetricsCountTransitions(t *testing.T) {
	h := newHarness(t)
	h.posted(t)
	families, err := h.engine.Metrics().Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["fieldproof_transitions_total"])
	assert.True(t, names["fieldproof_provider_calls_total"])
}
