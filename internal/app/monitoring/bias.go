package monitoring

import "math"

// GroupOutcomes summarizes one protected-attribute group's labeled
// prediction outcomes over a window.
type GroupOutcomes struct {
	Group            string
	PositiveRate     float64 // P(predicted positive)
	FalsePositiveRate float64
	TruePositiveRate  float64
}

// DemographicParityDifference is max-min of PositiveRate across groups.
func DemographicParityDifference(groups []GroupOutcomes) float64 {
	if len(groups) == 0 {
		return 0
	}
	lo, hi := groups[0].PositiveRate, groups[0].PositiveRate
	for _, g := range groups[1:] {
		lo = math.Min(lo, g.PositiveRate)
		hi = math.Max(hi, g.PositiveRate)
	}
	return hi - lo
}

// EqualizedOddsDifference is the larger of the max-min spread of true- and
// false-positive rates across groups.
func EqualizedOddsDifference(groups []GroupOutcomes) float64 {
	if len(groups) == 0 {
		return 0
	}
	tprLo, tprHi := groups[0].TruePositiveRate, groups[0].TruePositiveRate
	fprLo, fprHi := groups[0].FalsePositiveRate, groups[0].FalsePositiveRate
	for _, g := range groups[1:] {
		tprLo, tprHi = math.Min(tprLo, g.TruePositiveRate), math.Max(tprHi, g.TruePositiveRate)
		fprLo, fprHi = math.Min(fprLo, g.FalsePositiveRate), math.Max(fprHi, g.FalsePositiveRate)
	}
	return math.Max(tprHi-tprLo, fprHi-fprLo)
}

// DisparateImpact is min/max of PositiveRate across groups; 1.0 is perfect
// parity and the default floor is 0.80 (the "four-fifths rule").
func DisparateImpact(groups []GroupOutcomes) float64 {
	if len(groups) == 0 {
		return 1
	}
	lo, hi := groups[0].PositiveRate, groups[0].PositiveRate
	for _, g := range groups[1:] {
		lo = math.Min(lo, g.PositiveRate)
		hi = math.Max(hi, g.PositiveRate)
	}
	if hi == 0 {
		return 1
	}
	return lo / hi
}

// FPRParityDifference is max-min of FalsePositiveRate across groups.
func FPRParityDifference(groups []GroupOutcomes) float64 {
	if len(groups) == 0 {
		return 0
	}
	lo, hi := groups[0].FalsePositiveRate, groups[0].FalsePositiveRate
	for _, g := range groups[1:] {
		lo = math.Min(lo, g.FalsePositiveRate)
		hi = math.Max(hi, g.FalsePositiveRate)
	}
	return hi - lo
}
