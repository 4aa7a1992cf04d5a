// Package alerts implements deduplicated alert persistence, pluggable
// notification sinks, and auto-resolution once the underlying metric has
// been OK for enough consecutive windows.
package alerts

import (
	"context"
	"sync"

	core "github.com/r3e-network/fraudctl/internal/app/core/service"
	"github.com/r3e-network/fraudctl/internal/app/domain/alert"
	"github.com/r3e-network/fraudctl/internal/app/metrics"
	"github.com/r3e-network/fraudctl/internal/app/storage"
	"github.com/r3e-network/fraudctl/pkg/logger"
)

// DefaultAutoResolveWindows is how many consecutive OK readings on a dedup
// key are required before its ACTIVE alert auto-resolves.
const DefaultAutoResolveWindows = 2

// Manager owns alert lifecycle: dedup, acknowledgement, and auto-resolve. It
// satisfies monitoring.AlertSink without importing the monitoring package;
// monitoring declares that interface itself, so neither package imports
// the other.
type Manager struct {
	catalog      storage.Catalog
	sinks        []NotificationSink
	autoResolveN int
	log          *logger.Logger

	mu       sync.Mutex
	okStreak map[string]int
}

// Option configures a Manager.
type Option func(*Manager)

// WithSinks appends notification sinks to deliver newly raised alerts to,
// in addition to the always-on LogSink.
func WithSinks(sinks ...NotificationSink) Option {
	return func(m *Manager) { m.sinks = append(m.sinks, sinks...) }
}

// WithAutoResolveWindows overrides the consecutive-OK-window count required
// before an ACTIVE alert auto-resolves.
func WithAutoResolveWindows(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.autoResolveN = n
		}
	}
}

// New builds a Manager backed by catalog, always notifying through a
// LogSink plus any sinks supplied via options.
func New(catalog storage.Catalog, log *logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logger.NewDefault("alerts")
	}
	m := &Manager{
		catalog:      catalog,
		autoResolveN: DefaultAutoResolveWindows,
		log:          log,
		okStreak:     make(map[string]int),
	}
	m.sinks = append(m.sinks, NewLogSink(log))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Raise submits a (possibly merged) alert and fans it out to every
// configured sink. A sink failure is logged but never blocks persistence
// or the other sinks, and never surfaces to the caller.
func (m *Manager) Raise(ctx context.Context, a alert.Alert) (err error) {
	m.mu.Lock()
	delete(m.okStreak, a.DedupKey)
	m.mu.Unlock()

	stored, merged, err := m.catalog.SubmitAlert(ctx, a)
	if err != nil {
		return err
	}
	if merged {
		return nil
	}

	for _, sink := range m.sinks {
		done := core.StartDispatch(ctx, metrics.AlertDispatchHooks(), map[string]string{"alert_id": stored.ID})
		nerr := sink.Notify(ctx, stored)
		done(nerr)
		if nerr != nil {
			m.log.WithError(nerr).Warn("alerts: notification sink failed")
		}
	}
	return nil
}

// NotifyOK records an OK reading for dedupKey. Once it has been seen for
// AutoResolveWindows consecutive calls, any ACTIVE alert sharing that key
// is auto-resolved.
func (m *Manager) NotifyOK(ctx context.Context, dedupKey string) error {
	m.mu.Lock()
	m.okStreak[dedupKey]++
	streak := m.okStreak[dedupKey]
	threshold := m.autoResolveN
	m.mu.Unlock()

	if streak < threshold {
		return nil
	}

	alerts, err := m.catalog.ListAlerts(ctx, storage.ListFilter{Fields: map[string]string{"status": string(alert.StatusActive)}})
	if err != nil {
		return err
	}
	for _, a := range alerts {
		if a.DedupKey != dedupKey {
			continue
		}
		if err := m.catalog.PatchAlertState(ctx, a.ID, alert.StatusActive, alert.StatusResolved); err != nil {
			m.log.WithError(err).Warn("alerts: auto-resolve failed")
			continue
		}
		m.mu.Lock()
		delete(m.okStreak, dedupKey)
		m.mu.Unlock()
	}
	return nil
}

// Acknowledge transitions an ACTIVE alert to ACKNOWLEDGED.
func (m *Manager) Acknowledge(ctx context.Context, id string) error {
	return m.catalog.PatchAlertState(ctx, id, alert.StatusActive, alert.StatusAcknowledged)
}

// Dismiss transitions an alert to DISMISSED from either ACTIVE or
// ACKNOWLEDGED.
func (m *Manager) Dismiss(ctx context.Context, id string) error {
	a, err := m.catalog.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	return m.catalog.PatchAlertState(ctx, id, a.Status, alert.StatusDismissed)
}
