package features

import (
	"sort"
	"time"
)

// BatchHistory implements UserHistory by indexing a closed batch of
// transactions in memory, rather than querying a separate store. Each
// feature-compute run operates over a single dataset snapshot, so the
// batch itself is a complete and correct history for every row in it.
type BatchHistory struct {
	byUser map[string][]Transaction
}

// NewBatchHistory indexes txs by UserID, sorted by EventTime, so Aggregate
// and Prior scan only that user's rows and stop at the first one at or
// after asOf.
func NewBatchHistory(txs []Transaction) *BatchHistory {
	byUser := make(map[string][]Transaction)
	for _, tx := range txs {
		byUser[tx.UserID] = append(byUser[tx.UserID], tx)
	}
	for _, rows := range byUser {
		sort.Slice(rows, func(i, j int) bool { return rows[i].EventTime.Before(rows[j].EventTime) })
	}
	return &BatchHistory{byUser: byUser}
}

// Aggregate returns count, sum, and max Amount for userID strictly before
// asOf and within window of it.
func (h *BatchHistory) Aggregate(userID string, window time.Duration, asOf time.Time) (count int, sum, max float64) {
	since := asOf.Add(-window)
	for _, tx := range h.byUser[userID] {
		if !tx.EventTime.Before(asOf) {
			break
		}
		if tx.EventTime.Before(since) {
			continue
		}
		count++
		sum += tx.Amount
		if tx.Amount > max {
			max = tx.Amount
		}
	}
	return count, sum, max
}

// Prior returns the count of transactions strictly before asOf, the most
// recent one's time, and the earliest one's time (treated as the account's
// opening, absent a dedicated account-open record).
func (h *BatchHistory) Prior(userID string, asOf time.Time) (count int, lastTxTime, accountOpenedAt time.Time) {
	rows := h.byUser[userID]
	if len(rows) > 0 {
		accountOpenedAt = rows[0].EventTime
	}
	for _, tx := range rows {
		if !tx.EventTime.Before(asOf) {
			break
		}
		count++
		lastTxTime = tx.EventTime
	}
	return count, lastTxTime, accountOpenedAt
}
