// Package catalogbus narrows pkg/pgnotify's general-purpose NOTIFY/LISTEN bus
// down to the three typed change-feed channels storage.Catalog implementations
// publish on: a model's promotion to PRODUCTION, a newly raised alert, and a
// job's state transition. A Postgres-backed Catalog needs this because, unlike
// the in-memory Store's direct callback slices, its subscribers may be running
// in a different process (a second appserver replica, a CLI) than the one that
// performed the write.
package catalogbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/r3e-network/fraudctl/internal/app/storage"
	"github.com/r3e-network/fraudctl/pkg/pgnotify"
)

const (
	channelModelActivated  = "fraudctl_model_activated"
	channelAlertRaised     = "fraudctl_alert_raised"
	channelJobStateChanged = "fraudctl_job_state_changed"
)

// Feed is a storage.ChangeFeed backed by Postgres NOTIFY/LISTEN, so every
// subscriber connected to the same database observes the same events
// regardless of which process published them.
type Feed struct {
	bus *pgnotify.Bus

	mu                sync.RWMutex
	onModelActivated  []func(storage.ModelActivatedEvent)
	onAlertRaised     []func(storage.AlertRaisedEvent)
	onJobStateChanged []func(storage.JobStateChangedEvent)
}

var _ storage.ChangeFeed = (*Feed)(nil)

// New opens a dedicated listener connection against dsn and wires the three
// channels this feed understands.
func New(dsn string) (*Feed, error) {
	bus, err := pgnotify.New(dsn)
	if err != nil {
		return nil, fmt.Errorf("catalogbus: open bus: %w", err)
	}
	f := &Feed{bus: bus}

	if err := bus.Subscribe(channelModelActivated, f.dispatchModelActivated); err != nil {
		return nil, fmt.Errorf("catalogbus: subscribe %s: %w", channelModelActivated, err)
	}
	if err := bus.Subscribe(channelAlertRaised, f.dispatchAlertRaised); err != nil {
		return nil, fmt.Errorf("catalogbus: subscribe %s: %w", channelAlertRaised, err)
	}
	if err := bus.Subscribe(channelJobStateChanged, f.dispatchJobStateChanged); err != nil {
		return nil, fmt.Errorf("catalogbus: subscribe %s: %w", channelJobStateChanged, err)
	}
	return f, nil
}

// Close releases the underlying listener connection.
func (f *Feed) Close() error { return f.bus.Close() }

// PublishModelActivated notifies every subscriber of a completed promotion.
func (f *Feed) PublishModelActivated(ctx context.Context, event storage.ModelActivatedEvent) error {
	return f.bus.Publish(ctx, channelModelActivated, event)
}

// PublishAlertRaised notifies every subscriber of a new ACTIVE alert.
func (f *Feed) PublishAlertRaised(ctx context.Context, event storage.AlertRaisedEvent) error {
	return f.bus.Publish(ctx, channelAlertRaised, event)
}

// PublishJobStateChanged notifies every subscriber of a job state transition.
func (f *Feed) PublishJobStateChanged(ctx context.Context, event storage.JobStateChangedEvent) error {
	return f.bus.Publish(ctx, channelJobStateChanged, event)
}

func (f *Feed) OnModelActivated(fn func(storage.ModelActivatedEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onModelActivated = append(f.onModelActivated, fn)
}

func (f *Feed) OnAlertRaised(fn func(storage.AlertRaisedEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAlertRaised = append(f.onAlertRaised, fn)
}

func (f *Feed) OnJobStateChanged(fn func(storage.JobStateChangedEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onJobStateChanged = append(f.onJobStateChanged, fn)
}

func (f *Feed) dispatchModelActivated(_ context.Context, ev pgnotify.Event) error {
	var event storage.ModelActivatedEvent
	if err := json.Unmarshal(ev.Payload, &event); err != nil {
		return fmt.Errorf("catalogbus: decode model activated event: %w", err)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, fn := range f.onModelActivated {
		fn(event)
	}
	return nil
}

func (f *Feed) dispatchAlertRaised(_ context.Context, ev pgnotify.Event) error {
	var event storage.AlertRaisedEvent
	if err := json.Unmarshal(ev.Payload, &event); err != nil {
		return fmt.Errorf("catalogbus: decode alert raised event: %w", err)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, fn := range f.onAlertRaised {
		fn(event)
	}
	return nil
}

func (f *Feed) dispatchJobStateChanged(_ context.Context, ev pgnotify.Event) error {
	var event storage.JobStateChangedEvent
	if err := json.Unmarshal(ev.Payload, &event); err != nil {
		return fmt.Errorf("catalogbus: decode job state changed event: %w", err)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, fn := range f.onJobStateChanged {
		fn(event)
	}
	return nil
}
