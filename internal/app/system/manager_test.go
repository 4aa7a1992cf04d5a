package system

import (
	"context"
	"fmt"
	"testing"

	core "github.com/r3e-network/fraudctl/internal/app/core/service"
)

type recordingService struct {
	name       string
	layer      core.Layer
	failStart  bool
	startCalls *[]string
	stopCalls  *[]string
}

func (r recordingService) Name() string { return r.name }

func (r recordingService) Start(ctx context.Context) error {
	if r.failStart {
		return fmt.Errorf("boom")
	}
	*r.startCalls = append(*r.startCalls, r.name)
	return nil
}

func (r recordingService) Stop(ctx context.Context) error {
	*r.stopCalls = append(*r.stopCalls, r.name)
	return nil
}

func (r recordingService) Descriptor() core.Descriptor {
	return core.Descriptor{Name: r.name, Layer: r.layer}
}

func TestManagerStartsInOrderStopsInReverse(t *testing.T) {
	var starts, stops []string
	m := NewManager()
	a := recordingService{name: "scheduler", layer: core.LayerEngine, startCalls: &starts, stopCalls: &stops}
	b := recordingService{name: "inference", layer: core.LayerIngress, startCalls: &starts, stopCalls: &stops}

	if err := m.Register(a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := m.Register(b); err != nil {
		t.Fatalf("register b: %v", err)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(starts) != 2 || starts[0] != "scheduler" || starts[1] != "inference" {
		t.Fatalf("unexpected start order: %v", starts)
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(stops) != 2 || stops[0] != "inference" || stops[1] != "scheduler" {
		t.Fatalf("unexpected stop order: %v", stops)
	}
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	m := NewManager()
	var starts, stops []string
	svc := recordingService{name: "x", startCalls: &starts, stopCalls: &stops}
	if err := m.Register(svc); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := m.Register(svc); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestManagerStartFailureUnwindsStartedServices(t *testing.T) {
	var starts, stops []string
	m := NewManager()
	ok := recordingService{name: "ok", startCalls: &starts, stopCalls: &stops}
	bad := recordingService{name: "bad", failStart: true, startCalls: &starts, stopCalls: &stops}

	_ = m.Register(ok)
	_ = m.Register(bad)

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected start to fail")
	}
	if len(stops) != 1 || stops[0] != "ok" {
		t.Fatalf("expected started service to be stopped on failure, got %v", stops)
	}
}

func TestManagerDescriptorsSorted(t *testing.T) {
	m := NewManager()
	var starts, stops []string
	_ = m.Register(recordingService{name: "zeta", layer: core.LayerData, startCalls: &starts, stopCalls: &stops})
	_ = m.Register(recordingService{name: "alpha", layer: core.LayerData, startCalls: &starts, stopCalls: &stops})

	descs := m.Descriptors()
	if len(descs) != 2 || descs[0].Name != "alpha" || descs[1].Name != "zeta" {
		t.Fatalf("expected sorted descriptors, got %#v", descs)
	}
}
