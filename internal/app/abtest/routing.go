package abtest

import "hash/fnv"

// RouteToChallenger deterministically decides whether a transaction is
// served by the challenger arm. Hashing on transaction_id rather than
// drawing per-request randomness means the same transaction always lands
// on the same arm for the lifetime of a test, even across retries.
func RouteToChallenger(transactionID string, trafficSplit float64) bool {
	if trafficSplit <= 0 {
		return false
	}
	if trafficSplit >= 1 {
		return true
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(transactionID))
	bucket := h.Sum32() % 100
	return float64(bucket) < trafficSplit*100
}
