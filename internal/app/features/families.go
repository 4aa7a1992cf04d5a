package features

import (
	"math"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
)

// Transaction is one raw input row the feature families compute over. All
// timestamps are UTC and windows are anchored on EventTime.
type Transaction struct {
	ID          string
	UserID      string
	EventTime   time.Time
	Amount      float64
	Merchant    string
	PaymentType string
	Device      string
	Country     string
	HomeCountry string
	Label       float64 // 0 or 1
}

// UserHistory supplies the aggregates the behavioral and aggregation
// families need: per-user running statistics and rolling-window sums as of
// a point in time, looked up by the caller's storage layer rather than
// recomputed from scratch per row.
type UserHistory interface {
	// Aggregate returns count, sum and max of Amount for userID within
	// window ending at asOf.
	Aggregate(userID string, window time.Duration, asOf time.Time) (count int, sum, max float64)
	// Prior returns the number of prior transactions for userID strictly
	// before asOf, the time of the most recent one (zero if none), and the
	// time the user's account was opened.
	Prior(userID string, asOf time.Time) (count int, lastTxTime time.Time, accountOpenedAt time.Time)
}

// Build computes the full (pre-selection) feature matrix for txs, honoring
// which families cfg enables.
func Build(txs []Transaction, history UserHistory, calendar HolidayCalendar, cfg featureset.Config) Matrix {
	m := Matrix{Data: make(map[string][]float64), Labels: make([]float64, len(txs))}

	set := func(name string, i int, n int, v float64) {
		col, ok := m.Data[name]
		if !ok {
			col = make([]float64, n)
			m.Data[name] = col
			m.Columns = append(m.Columns, name)
		}
		col[i] = v
	}

	merchants := distinctValues(txs, func(t Transaction) string { return t.Merchant })
	payments := distinctValues(txs, func(t Transaction) string { return t.PaymentType })
	devices := distinctValues(txs, func(t Transaction) string { return t.Device })

	n := len(txs)
	for i, tx := range txs {
		m.Labels[i] = tx.Label

		if cfg.EnableTransaction {
			set("amount", i, n, tx.Amount)
			logAmount := math.Log1p(math.Max(tx.Amount, 0))
			set("amount_log", i, n, logAmount)
			set("amount_round", i, n, boolFloat(math.Mod(tx.Amount, 1) == 0))
			set("amount_high_value", i, n, boolFloat(tx.Amount > highValueThreshold(txs)))
			set("international", i, n, boolFloat(tx.Country != "" && tx.Country != tx.HomeCountry))
			for _, merchant := range merchants {
				set("merchant_"+merchant, i, n, boolFloat(tx.Merchant == merchant))
			}
			for _, payment := range payments {
				set("payment_"+payment, i, n, boolFloat(tx.PaymentType == payment))
			}
			for _, device := range devices {
				set("device_"+device, i, n, boolFloat(tx.Device == device))
			}
		}

		if cfg.EnableTemporal {
			hour := float64(tx.EventTime.UTC().Hour())
			weekday := tx.EventTime.UTC().Weekday()
			set("hour", i, n, hour)
			set("weekday", i, n, float64(weekday))
			set("is_weekend", i, n, boolFloat(weekday == time.Saturday || weekday == time.Sunday))
			set("is_night", i, n, boolFloat(hour < 6 || hour >= 22))
			if calendar != nil {
				set("is_holiday", i, n, boolFloat(calendar.IsHoliday(tx.EventTime)))
			}
			if history != nil {
				_, _, openedAt := history.Prior(tx.UserID, tx.EventTime)
				if !openedAt.IsZero() {
					set("account_age_days", i, n, tx.EventTime.Sub(openedAt).Hours()/24)
				}
				_, lastTx, _ := history.Prior(tx.UserID, tx.EventTime)
				if !lastTx.IsZero() {
					set("time_since_last_s", i, n, tx.EventTime.Sub(lastTx).Seconds())
				}
			}
		}

		if cfg.EnableBehavioral && history != nil {
			count, totalSum, totalMax := history.Aggregate(tx.UserID, 0, tx.EventTime)
			set("user_txn_count", i, n, float64(count))
			set("user_txn_sum", i, n, totalSum)
			set("user_txn_max", i, n, totalMax)
			if totalSum > 0 {
				set("amount_zscore", i, n, zscore(tx.Amount, totalSum, float64(count)))
			}
		}

		if cfg.EnableAggregation && history != nil {
			for _, window := range cfg.AggregationWindows {
				count, sum, max := history.Aggregate(tx.UserID, window, tx.EventTime)
				suffix := window.String()
				set("count_"+suffix, i, n, float64(count))
				set("sum_"+suffix, i, n, sum)
				set("max_"+suffix, i, n, max)
				if count > 0 {
					set("velocity_"+suffix, i, n, tx.Amount/math.Max(sum/float64(count), 1e-9))
				}
			}
		}
	}

	return m
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func distinctValues(txs []Transaction, fn func(Transaction) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tx := range txs {
		v := fn(tx)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func highValueThreshold(txs []Transaction) float64 {
	if len(txs) == 0 {
		return 0
	}
	var sum float64
	for _, tx := range txs {
		sum += tx.Amount
	}
	return (sum / float64(len(txs))) * 3
}

func zscore(value, sum, count float64) float64 {
	mean := sum / count
	return value - mean
}
