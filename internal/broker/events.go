package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"inventory-service/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing ledger events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// PublishMovementRecorded publishes MovementRecorded event
func (ep *EventPublisher) PublishMovementRecorded(ctx context.Context, event *models.MovementRecordedEvent) error {
	return ep.producer.PublishEvent(ctx, "product-"+event.ProductID, event)
}

// PublishSaleCommitted publishes SaleCommitted event
func (ep *EventPublisher) PublishSaleCommitted(ctx context.Context, event *models.SaleCommittedEvent) error {
	return ep.producer.PublishEvent(ctx, "transaction-"+event.TransactionID, event)
}

// PublishProductArchived publishes ProductArchived event
func (ep *EventPublisher) PublishProductArchived(ctx context.Context, event *models.ProductArchivedEvent) error {
	return ep.producer.PublishEvent(ctx, "product-"+event.ProductID, event)
}

// EventHandler routes incoming ledger events
type EventHandler struct {
	onMovementRecorded func(context.Context, *models.MovementRecordedEvent) error
	onSaleCommitted    func(context.Context, *models.SaleCommittedEvent) error
	onProductArchived  func(context.Context, *models.ProductArchivedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

func (eh *EventHandler) OnMovementRecorded(handler func(context.Context, *models.MovementRecordedEvent) error) {
	eh.onMovementRecorded = handler
}

func (eh *EventHandler) OnSaleCommitted(handler func(context.Context, *models.SaleCommittedEvent) error) {
	eh.onSaleCommitted = handler
}

func (eh *EventHandler) OnProductArchived(handler func(context.Context, *models.ProductArchivedEvent) error) {
	eh.onProductArchived = handler
}

// HandleMessage routes messages to the registered handlers; unknown types are ignored
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return eh.Dispatch(ctx, msg.Value)
}

// Dispatch decodes one event payload and invokes its handler
func (eh *EventHandler) Dispatch(ctx context.Context, payload []byte) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(payload, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeMovementRecorded:
		if eh.onMovementRecorded != nil {
			var event models.MovementRecordedEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return fmt.Errorf("failed to unmarshal MovementRecorded event: %w", err)
			}
			return eh.onMovementRecorded(ctx, &event)
		}

	case models.EventTypeSaleCommitted:
		if eh.onSaleCommitted != nil {
			var event models.SaleCommittedEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SaleCommitted event: %w", err)
			}
			return eh.onSaleCommitted(ctx, &event)
		}

	case models.EventTypeProductArchived:
		if eh.onProductArchived != nil {
			var event models.ProductArchivedEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ProductArchived event: %w", err)
			}
			return eh.onProductArchived(ctx, &event)
		}
	}

	return nil
}
