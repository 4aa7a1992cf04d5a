package monitoring

import (
	"testing"

	"github.com/r3e-network/fraudctl/internal/app/domain/metric"
)

func TestHysteresisStepsUpImmediately(t *testing.T) {
	h := newHysteresisTracker(2)
	eff, transitioned := h.Apply("k", metric.StatusOK)
	if eff != metric.StatusOK || transitioned {
		t.Fatalf("unexpected first window result: %v %v", eff, transitioned)
	}
	eff, transitioned = h.Apply("k", metric.StatusCritical)
	if eff != metric.StatusCritical || !transitioned {
		t.Fatalf("expected immediate step-up to CRITICAL, got %v %v", eff, transitioned)
	}
}

func TestHysteresisDelaysStepDown(t *testing.T) {
	h := newHysteresisTracker(2)
	h.Apply("k", metric.StatusCritical)

	eff, transitioned := h.Apply("k", metric.StatusOK)
	if eff != metric.StatusCritical || transitioned {
		t.Fatalf("expected status to stay CRITICAL after one improved window, got %v %v", eff, transitioned)
	}

	eff, transitioned = h.Apply("k", metric.StatusOK)
	if eff != metric.StatusOK || !transitioned {
		t.Fatalf("expected step-down to OK after two consecutive improved windows, got %v %v", eff, transitioned)
	}
}

func TestHysteresisResetsImprovementRunOnRegression(t *testing.T) {
	h := newHysteresisTracker(2)
	h.Apply("k", metric.StatusCritical)
	h.Apply("k", metric.StatusOK)
	h.Apply("k", metric.StatusWarning) // regresses partway, should reset the improvement run

	eff, transitioned := h.Apply("k", metric.StatusOK)
	if eff != metric.StatusCritical || transitioned {
		t.Fatalf("expected to still be CRITICAL since the improvement run was reset by the regression, got %v %v", eff, transitioned)
	}
}
