package features

import (
	"testing"
	"time"
)

func TestBatchHistoryAggregateWindowsAndExcludesCurrentRow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []Transaction{
		{UserID: "u1", EventTime: base, Amount: 10},
		{UserID: "u1", EventTime: base.Add(time.Hour), Amount: 20},
		{UserID: "u1", EventTime: base.Add(48 * time.Hour), Amount: 999}, // outside the 24h window
	}
	h := NewBatchHistory(txs)

	count, sum, max := h.Aggregate("u1", 24*time.Hour, base.Add(2*time.Hour))
	if count != 2 || sum != 30 || max != 20 {
		t.Fatalf("expected count=2 sum=30 max=20, got count=%d sum=%v max=%v", count, sum, max)
	}

	count, sum, _ = h.Aggregate("u1", 24*time.Hour, base)
	if count != 0 || sum != 0 {
		t.Fatalf("expected no prior transactions strictly before the first row, got count=%d sum=%v", count, sum)
	}
}

func TestBatchHistoryPriorTracksCountAndBounds(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []Transaction{
		{UserID: "u1", EventTime: base, Amount: 10},
		{UserID: "u1", EventTime: base.Add(time.Hour), Amount: 20},
	}
	h := NewBatchHistory(txs)

	count, lastTx, opened := h.Prior("u1", base.Add(2*time.Hour))
	if count != 2 {
		t.Fatalf("expected 2 prior transactions, got %d", count)
	}
	if !lastTx.Equal(base.Add(time.Hour)) {
		t.Fatalf("expected lastTxTime %v, got %v", base.Add(time.Hour), lastTx)
	}
	if !opened.Equal(base) {
		t.Fatalf("expected accountOpenedAt %v, got %v", base, opened)
	}
}

func TestBatchHistoryUnknownUserIsEmpty(t *testing.T) {
	h := NewBatchHistory(nil)
	count, sum, max := h.Aggregate("missing", time.Hour, time.Now())
	if count != 0 || sum != 0 || max != 0 {
		t.Fatalf("expected zero-value aggregates for an unknown user")
	}
	count, _, _ = h.Prior("missing", time.Now())
	if count != 0 {
		t.Fatalf("expected zero prior count for an unknown user")
	}
}
