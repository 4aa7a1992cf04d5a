package alerts

import (
	"context"
	"sync"
	"testing"

	"github.com/r3e-network/fraudctl/internal/app/domain/alert"
	"github.com/r3e-network/fraudctl/internal/app/storage"
	"github.com/r3e-network/fraudctl/internal/app/storage/memory"
)

type spySink struct {
	mu    sync.Mutex
	seen  []alert.Alert
	fails bool
}

func (s *spySink) Notify(_ context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails {
		return context.DeadlineExceeded
	}
	s.seen = append(s.seen, a)
	return nil
}

func newAlert(dedupKey string) alert.Alert {
	return alert.Alert{
		ModelID:   "model-1",
		SourceKind: alert.SourceDataDrift,
		AlertType: "data_drift:amount",
		Severity:  alert.SeverityWarning,
		Title:     "data drift on amount",
		DedupKey:  dedupKey,
	}
}

func TestRaiseCreatesAlertAndNotifiesSinks(t *testing.T) {
	catalog := memory.New()
	spy := &spySink{}
	m := New(catalog, nil, WithSinks(spy))

	if err := m.Raise(context.Background(), newAlert("model-1|data_drift:amount|2026-08-01")); err != nil {
		t.Fatalf("raise: %v", err)
	}

	alerts, err := catalog.ListAlerts(context.Background(), storage.ListFilter{})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if alerts[0].Status != alert.StatusActive {
		t.Fatalf("expected ACTIVE, got %v", alerts[0].Status)
	}

	spy.mu.Lock()
	defer spy.mu.Unlock()
	if len(spy.seen) != 1 {
		t.Fatalf("expected the sink to see the new alert, got %d", len(spy.seen))
	}
}

func TestRaiseMergesDuplicateDedupKeyWithoutRenotifying(t *testing.T) {
	catalog := memory.New()
	spy := &spySink{}
	m := New(catalog, nil, WithSinks(spy))
	ctx := context.Background()
	key := "model-1|data_drift:amount|2026-08-01"

	if err := m.Raise(ctx, newAlert(key)); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := m.Raise(ctx, newAlert(key)); err != nil {
		t.Fatalf("raise again: %v", err)
	}

	alerts, err := catalog.ListAlerts(ctx, storage.ListFilter{})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected dedup to merge into one alert, got %d", len(alerts))
	}
	if alerts[0].OccurrenceCount != 2 {
		t.Fatalf("expected occurrence count 2, got %d", alerts[0].OccurrenceCount)
	}

	spy.mu.Lock()
	defer spy.mu.Unlock()
	if len(spy.seen) != 1 {
		t.Fatalf("expected sinks to fire only on the first, non-merged raise, got %d", len(spy.seen))
	}
}

func TestNotifyOKAutoResolvesAfterConsecutiveWindows(t *testing.T) {
	catalog := memory.New()
	m := New(catalog, nil, WithAutoResolveWindows(2))
	ctx := context.Background()
	key := "model-1|data_drift:amount|2026-08-01"

	if err := m.Raise(ctx, newAlert(key)); err != nil {
		t.Fatalf("raise: %v", err)
	}

	if err := m.NotifyOK(ctx, key); err != nil {
		t.Fatalf("notify ok 1: %v", err)
	}
	alerts, _ := catalog.ListAlerts(ctx, storage.ListFilter{})
	if alerts[0].Status != alert.StatusActive {
		t.Fatalf("expected alert to still be ACTIVE after one OK window, got %v", alerts[0].Status)
	}

	if err := m.NotifyOK(ctx, key); err != nil {
		t.Fatalf("notify ok 2: %v", err)
	}
	alerts, _ = catalog.ListAlerts(ctx, storage.ListFilter{})
	if alerts[0].Status != alert.StatusResolved {
		t.Fatalf("expected auto-resolve after two consecutive OK windows, got %v", alerts[0].Status)
	}
}

func TestRaiseAfterRegressionResetsOKStreak(t *testing.T) {
	catalog := memory.New()
	m := New(catalog, nil, WithAutoResolveWindows(2))
	ctx := context.Background()
	key := "model-1|data_drift:amount|2026-08-01"

	if err := m.Raise(ctx, newAlert(key)); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := m.NotifyOK(ctx, key); err != nil {
		t.Fatalf("notify ok: %v", err)
	}
	// regression re-raises before the streak completes
	if err := m.Raise(ctx, newAlert(key)); err != nil {
		t.Fatalf("raise again: %v", err)
	}
	if err := m.NotifyOK(ctx, key); err != nil {
		t.Fatalf("notify ok after regression: %v", err)
	}

	alerts, _ := catalog.ListAlerts(ctx, storage.ListFilter{})
	if alerts[0].Status != alert.StatusActive {
		t.Fatalf("expected the streak reset by the regression to prevent auto-resolve, got %v", alerts[0].Status)
	}
}

func TestSinkFailureDoesNotBlockPersistence(t *testing.T) {
	catalog := memory.New()
	failing := &spySink{fails: true}
	m := New(catalog, nil, WithSinks(failing))

	if err := m.Raise(context.Background(), newAlert("model-1|data_drift:amount|2026-08-01")); err != nil {
		t.Fatalf("raise should not fail when a sink errors: %v", err)
	}

	alerts, err := catalog.ListAlerts(context.Background(), storage.ListFilter{})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected the alert to persist despite the sink failure, got %d", len(alerts))
	}
}
