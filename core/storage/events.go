package storage

import (
	"context"
	"time"

	"github.com/asaidimu/go-events"
	"github.com/google/uuid"
)

// StorageEventType enumerates the lifecycle events the gateway emits.
type StorageEventType string

const (
	RecordCreated    StorageEventType = "record.created"
	RecordUpdated    StorageEventType = "record.updated"
	RecordDeleted    StorageEventType = "record.deleted"
	BulkIngestDone   StorageEventType = "ingest.done"
	MigrationApplied StorageEventType = "migration.applied"
)

// StorageEvent is the payload carried on the gateway's event bus.
type StorageEvent struct {
	Type      StorageEventType `json:"type"`
	Kind      string           `json:"kind"`
	ID        RecordID         `json:"id,omitempty"`
	Count     int              `json:"count,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// SubscriptionInfo describes one active event subscription.
type SubscriptionInfo struct {
	ID          string
	Event       StorageEventType
	Label       *string
	Description *string
	unsubscribe func()
}

// EventCallback is invoked for every matching event on the bus.
type EventCallback func(ctx context.Context, event StorageEvent) error

// RegisterSubscriptionOptions configures a new subscription.
type RegisterSubscriptionOptions struct {
	Event       StorageEventType
	Callback    EventCallback
	Label       *string
	Description *string
}

func (g *Gateway) emit(eventType StorageEventType, kind string, id RecordID, count int) {
	if g.bus == nil {
		return
	}
	g.bus.Emit(string(eventType), StorageEvent{
		Type:      eventType,
		Kind:      kind,
		ID:        id,
		Count:     count,
		Timestamp: time.Now(),
	})
}

// RegisterSubscription registers a callback for a storage event and returns a
// handle that can be passed to UnregisterSubscription.
func (g *Gateway) RegisterSubscription(options RegisterSubscriptionOptions) string {
	g.subMu.Lock()
	defer g.subMu.Unlock()

	unsubscribe := g.bus.Subscribe(string(options.Event), options.Callback)
	id := uuid.New().String()
	g.subscriptions[id] = &SubscriptionInfo{
		ID:          id,
		Event:       options.Event,
		Label:       options.Label,
		Description: options.Description,
		unsubscribe: unsubscribe,
	}
	return id
}

// UnregisterSubscription removes a subscription by its handle.
func (g *Gateway) UnregisterSubscription(id string) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	if info, ok := g.subscriptions[id]; ok {
		info.unsubscribe()
		delete(g.subscriptions, id)
	}
}

// Subscriptions returns all currently active subscriptions.
func (g *Gateway) Subscriptions() []SubscriptionInfo {
	g.subMu.RLock()
	defer g.subMu.RUnlock()
	subs := make([]SubscriptionInfo, 0, len(g.subscriptions))
	for _, sub := range g.subscriptions {
		subs = append(subs, *sub)
	}
	return subs
}

func newBus() (*events.TypedEventBus[StorageEvent], error) {
	return events.NewTypedEventBus[StorageEvent](events.DefaultConfig())
}
