package broker

import (
	"context"
	"encoding/json"
	"testing"

	"inventory-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchRoutesByEventType(t *testing.T) {
	eh := NewEventHandler()

	var movements, archived int
	eh.OnMovementRecorded(func(ctx context.Context, e *models.MovementRecordedEvent) error {
		movements++
		assert.Equal(t, "P1", e.ProductID)
		assert.Equal(t, 7, e.NewQuantity)
		return nil
	})
	eh.OnProductArchived(func(ctx context.Context, e *models.ProductArchivedEvent) error {
		archived++
		return nil
	})

	payload, err := json.Marshal(&models.MovementRecordedEvent{
		BaseEvent:   NewBaseEvent(models.EventTypeMovementRecorded),
		ProductID:   "P1",
		Type:        models.MovementOut,
		Qty:         3,
		NewQuantity: 7,
	})
	require.NoError(t, err)

	require.NoError(t, eh.Dispatch(context.Background(), payload))
	assert.Equal(t, 1, movements)
	assert.Equal(t, 0, archived)

	// no handler registered for sales
	sale, err := json.Marshal(&models.SaleCommittedEvent{BaseEvent: NewBaseEvent(models.EventTypeSaleCommitted)})
	require.NoError(t, err)
	assert.NoError(t, eh.Dispatch(context.Background(), sale))
}

func TestDispatchRejectsGarbage(t *testing.T) {
	assert.Error(t, NewEventHandler().Dispatch(context.Background(), []byte("{not json")))
}

func TestNewBaseEventIsUnique(t *testing.T) {
	a := NewBaseEvent(models.EventTypeSaleCommitted)
	b := NewBaseEvent(models.EventTypeSaleCommitted)
	assert.NotEqual(t, a.EventID, b.EventID)
	assert.False(t, a.Timestamp.IsZero())
}
