package monitoring

import "github.com/r3e-network/fraudctl/internal/app/domain/metric"

// BiasThresholds are the per-attribute fairness config.
type BiasThresholds struct {
	ParityDifference float64 // applies to demographic parity, equalized odds, FPR parity
	DisparateImpact  float64 // floor; below this is a violation
}

// DefaultBiasThresholds are the documented fairness defaults.
var DefaultBiasThresholds = BiasThresholds{ParityDifference: 0.10, DisparateImpact: 0.80}

// StatusForPSI bands a PSI value.
func StatusForPSI(value float64) metric.Status {
	switch {
	case value >= 0.25:
		return metric.StatusCritical
	case value >= 0.10:
		return metric.StatusWarning
	default:
		return metric.StatusOK
	}
}

// StatusForKS bands a KS statistic.
func StatusForKS(value float64) metric.Status {
	switch {
	case value >= 0.15:
		return metric.StatusCritical
	case value >= 0.05:
		return metric.StatusWarning
	default:
		return metric.StatusOK
	}
}

// StatusForConceptDrift bands a relative degradation: >=5% WARNING, >=10%
// CRITICAL. Negative values (the candidate improved) are OK.
func StatusForConceptDrift(relativeDegradation float64) metric.Status {
	switch {
	case relativeDegradation >= 0.10:
		return metric.StatusCritical
	case relativeDegradation >= 0.05:
		return metric.StatusWarning
	default:
		return metric.StatusOK
	}
}

// StatusForParityDifference bands a parity-style difference (demographic
// parity, equalized odds, FPR parity) against a threshold: WARNING at the
// threshold, CRITICAL at double it.
func StatusForParityDifference(value float64, thresholds BiasThresholds) metric.Status {
	switch {
	case value >= 2*thresholds.ParityDifference:
		return metric.StatusCritical
	case value >= thresholds.ParityDifference:
		return metric.StatusWarning
	default:
		return metric.StatusOK
	}
}

// StatusForDisparateImpact bands a disparate-impact ratio, where lower is
// worse (default floor 0.80, the "four-fifths rule").
func StatusForDisparateImpact(value float64, thresholds BiasThresholds) metric.Status {
	switch {
	case value < thresholds.DisparateImpact-0.20:
		return metric.StatusCritical
	case value < thresholds.DisparateImpact:
		return metric.StatusWarning
	default:
		return metric.StatusOK
	}
}
