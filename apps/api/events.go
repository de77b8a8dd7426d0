package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	eventStatusChanged = "report.status.changed"
	eventBulkProgress  = "bulk.progress"
	eventBulkCompleted = "bulk.completed"
	eventReportsReload = "reports.reload"

	eventHubBufferSize = 16
)

type domainEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Actor      string         `json:"actor,omitempty"`
	ReportID   *int           `json:"report_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func newDomainEvent(eventType, actor string, payload map[string]any) domainEvent {
	return domainEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Actor:      actor,
		Payload:    payload,
	}
}

type eventPublisher interface {
	Publish(ctx context.Context, event domainEvent) error
}

// multiPublisher delivers to every publisher and joins their errors.
type multiPublisher []eventPublisher

func (m multiPublisher) Publish(ctx context.Context, event domainEvent) error {
	var errs []error
	for _, publisher := range m {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type logEventPublisher struct {
	log *slog.Logger
}

func (p *logEventPublisher) Publish(_ context.Context, event domainEvent) error {
	attrs := []any{"event_id", event.ID, "type", event.Type, "actor", event.Actor}
	if event.ReportID != nil {
		attrs = append(attrs, "report_id", *event.ReportID)
	}
	p.log.Info("domain event", attrs...)
	return nil
}

// eventHub fans events out to live dashboard streams. Slow subscribers drop events
// instead of blocking publishers.
type eventHub struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]chan domainEvent
}

func newEventHub() *eventHub {
	return &eventHub{subscribers: make(map[int]chan domainEvent)}
}

func (h *eventHub) Publish(_ context.Context, event domainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (h *eventHub) subscribe() (int, <-chan domainEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan domainEvent, eventHubBufferSize)
	h.subscribers[h.nextID] = ch
	return h.nextID, ch
}

func (h *eventHub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}
