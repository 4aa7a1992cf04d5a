package rediscache

import (
	"testing"

	"github.com/r3e-network/fraudctl/internal/platform"
)

// TestDriverSatisfiesCacheDriver is a compile-time-shaped guard: if Driver
// ever drifts from platform.CacheDriver's method set this fails to build.
func TestDriverSatisfiesCacheDriver(t *testing.T) {
	var _ platform.CacheDriver = (*Driver)(nil)
}

func TestNewFromAddrBuildsNamedDriver(t *testing.T) {
	d := NewFromAddr("localhost:6379", "", 0)
	if d.Name() != "redis-feature-cache" {
		t.Fatalf("unexpected driver name: %s", d.Name())
	}
}
