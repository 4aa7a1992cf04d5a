package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/domain/alert"
	"github.com/r3e-network/fraudctl/internal/app/domain/metric"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/domain/prediction"
	"github.com/r3e-network/fraudctl/internal/app/features"
	"github.com/r3e-network/fraudctl/internal/app/storage"
	"github.com/r3e-network/fraudctl/internal/app/system"
	"github.com/r3e-network/fraudctl/pkg/logger"
)

// AlertSink is the subset of the alert manager the monitoring engine needs:
// raising a new or transitioned alert, and being told a metric returned to
// OK so it can count consecutive-OK windows toward auto-resolution.
type AlertSink interface {
	Raise(ctx context.Context, a alert.Alert) error
	NotifyOK(ctx context.Context, dedupKey string) error
}

// BiasAttribute configures one protected attribute to monitor, reading its
// group value out of each Prediction's logged Features map.
type BiasAttribute struct {
	Name          string // e.g. "home_country"
	FeatureColumn string // key into Prediction.Features
}

// Config tunes the engine's windows and bias attributes.
type Config struct {
	Interval         time.Duration // how often tick() runs, default 1h
	CurrentWindow    time.Duration // rolling tail for current-window samples, default 7 days
	StableWindows    int           // hysteresis: consecutive windows before stepping down, default 2
	BiasAttributes   []BiasAttribute
	BiasThresholds   BiasThresholds
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.CurrentWindow <= 0 {
		c.CurrentWindow = 7 * 24 * time.Hour
	}
	if c.StableWindows <= 0 {
		c.StableWindows = 2
	}
	if c.BiasThresholds == (BiasThresholds{}) {
		c.BiasThresholds = DefaultBiasThresholds
	}
}

// Engine is a ticker-driven background service polling production traffic
// for drift and bias, built on the same Start/Stop/ticker shape used
// elsewhere for background polling loops.
type Engine struct {
	catalog storage.Catalog
	fp      *features.Pipeline
	sink    AlertSink
	cfg     Config
	log     *logger.Logger

	dataDriftHyst    *hysteresisTracker
	conceptDriftHyst *hysteresisTracker
	biasHyst         *hysteresisTracker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Engine)(nil)

// New builds a monitoring Engine.
func New(catalog storage.Catalog, fp *features.Pipeline, sink AlertSink, cfg Config, log *logger.Logger) *Engine {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewDefault("monitoring")
	}
	return &Engine{
		catalog:          catalog,
		fp:               fp,
		sink:             sink,
		cfg:              cfg,
		log:              log,
		dataDriftHyst:    newHysteresisTracker(cfg.StableWindows),
		conceptDriftHyst: newHysteresisTracker(cfg.StableWindows),
		biasHyst:         newHysteresisTracker(cfg.StableWindows),
	}
}

func (e *Engine) Name() string { return "monitoring-engine" }

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				e.Tick(runCtx)
			}
		}
	}()

	e.log.Info("monitoring engine started")
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Tick runs one full pass over every PRODUCTION model. Exported so a
// scheduler-triggered one-shot monitoring job can invoke it directly instead
// of waiting for the next tick.
func (e *Engine) Tick(ctx context.Context) {
	models, err := e.catalog.ListModels(ctx, "", storage.ListFilter{Limit: 1000})
	if err != nil {
		e.log.WithError(err).Warn("monitoring: list models failed")
		return
	}
	for _, m := range models {
		if m.Status != model.StatusProduction {
			continue
		}
		e.evaluateModel(ctx, m)
	}
}

func (e *Engine) evaluateModel(ctx context.Context, m model.Model) {
	window := metric.Window{End: time.Now().UTC()}
	window.Start = window.End.Add(-e.cfg.CurrentWindow)

	preds, err := e.catalog.ListPredictions(ctx, m.ID, window.Start, window.End, storage.ListFilter{Limit: 100000})
	if err != nil {
		e.log.WithError(err).Warn("monitoring: list predictions failed")
		return
	}

	e.runDataDrift(ctx, m, preds, window)
	e.runConceptDrift(ctx, m, preds, window)
	e.runBias(ctx, m, preds, window)
}

func (e *Engine) runDataDrift(ctx context.Context, m model.Model, preds []prediction.Prediction, window metric.Window) {
	if e.fp == nil || m.FeatureSetID == "" {
		return
	}
	reference, err := e.referenceColumns(ctx, m)
	if err != nil {
		e.log.WithError(err).Warn("monitoring: loading reference distribution failed")
		return
	}

	for _, feature := range m.FeatureNames {
		refValues := reference[feature]
		curValues := currentColumn(preds, feature)
		if len(refValues) == 0 || len(curValues) == 0 {
			continue
		}

		psi := PSI(refValues, curValues)
		ksStat, ksP := KS(refValues, curValues)

		psiStatus := StatusForPSI(psi)
		ksStatus := StatusForKS(ksStat)
		raw := psiStatus
		if statusRank(ksStatus) > statusRank(raw) {
			raw = ksStatus
		}

		dedupKey := alert.DedupKey(m.ID, "data_drift:"+feature, window.Bucket())
		effective, transitioned := e.dataDriftHyst.Apply(dedupKey, raw)

		e.catalog.RecordDrift(ctx, metric.Drift{
			ModelID:    m.ID,
			Feature:    feature,
			MetricName: "psi",
			Value:      psi,
			Status:     effective,
			Window:     window,
		})
		e.catalog.RecordDrift(ctx, metric.Drift{
			ModelID:    m.ID,
			Feature:    feature,
			MetricName: "ks",
			Value:      ksStat,
			PValue:     ksP,
			Status:     effective,
			Window:     window,
		})

		e.notify(ctx, effective, transitioned, dedupKey, m, alert.SourceDataDrift,
			fmt.Sprintf("data drift on %s", feature),
			fmt.Sprintf("psi=%.4f ks=%.4f", psi, ksStat), window)
	}
}

func (e *Engine) runConceptDrift(ctx context.Context, m model.Model, preds []prediction.Prediction, window metric.Window) {
	labeled := labeledOnly(preds)
	if len(labeled) == 0 {
		return
	}
	baselines, err := e.catalog.ListBaselines(ctx, m.ID)
	if err != nil {
		e.log.WithError(err).Warn("monitoring: list baselines failed")
		return
	}
	if len(baselines) == 0 {
		return
	}

	current := computeConfusionMetrics(labeled)

	worst := metric.StatusOK
	var worstDetail string
	for _, b := range baselines {
		baselineValue := b.Threshold
		currentValue, ok := current.Get(b.MetricName)
		if !ok {
			continue
		}
		degradation := RelativeDegradation(baselineValue, currentValue)
		status := StatusForConceptDrift(degradation)
		if statusRank(status) > statusRank(worst) {
			worst = status
			worstDetail = fmt.Sprintf("%s degraded %.1f%% vs baseline (current %.4f, baseline %.4f)",
				b.MetricName, degradation*100, currentValue, baselineValue)
		}

		dedupKey := alert.DedupKey(m.ID, "concept_drift:"+b.MetricName, window.Bucket())
		effective, transitioned := e.conceptDriftHyst.Apply(dedupKey, status)

		e.catalog.RecordDrift(ctx, metric.Drift{
			ModelID:    m.ID,
			Feature:    b.MetricName,
			MetricName: "concept_drift",
			Value:      degradation,
			Threshold:  baselineValue,
			Status:     effective,
			Window:     window,
		})

		e.notify(ctx, effective, transitioned, dedupKey, m, alert.SourceConceptDrift,
			fmt.Sprintf("concept drift on %s", b.MetricName), worstDetail, window)
	}
}

func (e *Engine) runBias(ctx context.Context, m model.Model, preds []prediction.Prediction, window metric.Window) {
	for _, attr := range e.cfg.BiasAttributes {
		groups := groupOutcomes(preds, attr.FeatureColumn)
		if len(groups) < 2 {
			continue
		}

		dpDiff := DemographicParityDifference(groups)
		eoDiff := EqualizedOddsDifference(groups)
		di := DisparateImpact(groups)
		fprDiff := FPRParityDifference(groups)

		e.recordBiasMetric(ctx, m, attr.Name, "demographic_parity", dpDiff,
			StatusForParityDifference(dpDiff, e.cfg.BiasThresholds), window)
		e.recordBiasMetric(ctx, m, attr.Name, "equalized_odds", eoDiff,
			StatusForParityDifference(eoDiff, e.cfg.BiasThresholds), window)
		e.recordBiasMetric(ctx, m, attr.Name, "disparate_impact", di,
			StatusForDisparateImpact(di, e.cfg.BiasThresholds), window)
		e.recordBiasMetric(ctx, m, attr.Name, "fpr_parity", fprDiff,
			StatusForParityDifference(fprDiff, e.cfg.BiasThresholds), window)
	}
}

func (e *Engine) recordBiasMetric(ctx context.Context, m model.Model, attrName, metricName string, value float64, raw metric.Status, window metric.Window) {
	dedupKey := alert.DedupKey(m.ID, "bias:"+attrName+":"+metricName, window.Bucket())
	effective, transitioned := e.biasHyst.Apply(dedupKey, raw)

	e.catalog.RecordBias(ctx, metric.Bias{
		ModelID:            m.ID,
		ProtectedAttribute: attrName,
		MetricName:         metricName,
		Value:              value,
		Status:             effective,
		Window:             window,
	})

	e.notify(ctx, effective, transitioned, dedupKey, m, alert.SourceBias,
		fmt.Sprintf("bias (%s) on %s", metricName, attrName),
		fmt.Sprintf("%s=%.4f", metricName, value), window)
}

func (e *Engine) notify(ctx context.Context, status metric.Status, transitioned bool, dedupKey string, m model.Model, source alert.SourceKind, title, detail string, window metric.Window) {
	if e.sink == nil {
		return
	}
	if status == metric.StatusOK {
		if err := e.sink.NotifyOK(ctx, dedupKey); err != nil {
			e.log.WithError(err).Warn("monitoring: notify-ok failed")
		}
		return
	}
	if !transitioned {
		return
	}
	severity := alert.SeverityWarning
	if status == metric.StatusCritical {
		severity = alert.SeverityCritical
	}
	err := e.sink.Raise(ctx, alert.Alert{
		ModelID:      m.ID,
		SourceKind:   source,
		AlertType:    string(source),
		Severity:     severity,
		Title:        title,
		Details:      map[string]any{"detail": detail},
		DedupKey:     dedupKey,
		WindowBucket: window.Bucket(),
	})
	if err != nil {
		e.log.WithError(err).Warn("monitoring: raise alert failed")
	}
}

// referenceColumns loads the training-time feature matrix for m's
// FeatureSet, the frozen reference distribution the data-drift check
// compares against.
func (e *Engine) referenceColumns(ctx context.Context, m model.Model) (map[string][]float64, error) {
	fs, err := e.catalog.GetFeatureSet(ctx, m.FeatureSetID)
	if err != nil {
		return nil, err
	}
	matrix, err := e.fp.LoadMatrix(ctx, fs.ArtifactRef)
	if err != nil {
		return nil, err
	}
	return matrix.Data, nil
}

func currentColumn(preds []prediction.Prediction, feature string) []float64 {
	out := make([]float64, 0, len(preds))
	for _, p := range preds {
		if v, ok := p.Features[feature]; ok {
			out = append(out, v)
		}
	}
	return out
}

func labeledOnly(preds []prediction.Prediction) []prediction.Prediction {
	out := make([]prediction.Prediction, 0, len(preds))
	for _, p := range preds {
		if p.ActualLabel != nil {
			out = append(out, p)
		}
	}
	return out
}

// confusionMetrics is the small set of labeled-traffic metrics concept
// drift compares against Baselines; it mirrors model.Metrics' Get
// convention so the same baseline rows validate both training-time and
// production-time performance.
type confusionMetrics struct {
	Precision, Recall, F1, FPR float64
}

func (c confusionMetrics) Get(name string) (float64, bool) {
	switch name {
	case "precision":
		return c.Precision, true
	case "recall":
		return c.Recall, true
	case "f1":
		return c.F1, true
	case "fpr":
		return c.FPR, true
	default:
		return 0, false
	}
}

func computeConfusionMetrics(labeled []prediction.Prediction) confusionMetrics {
	var tp, fp, fn, tn float64
	for _, p := range labeled {
		actual := *p.ActualLabel
		switch {
		case p.Label && actual:
			tp++
		case p.Label && !actual:
			fp++
		case !p.Label && actual:
			fn++
		default:
			tn++
		}
	}
	precision := divide(tp, tp+fp)
	recall := divide(tp, tp+fn)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	fpr := divide(fp, fp+tn)
	return confusionMetrics{Precision: precision, Recall: recall, F1: f1, FPR: fpr}
}

func divide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func groupOutcomes(preds []prediction.Prediction, featureColumn string) []GroupOutcomes {
	type accum struct {
		predictedPositive, total       float64
		falsePositive, negatives       float64
		truePositive, actualPositives  float64
	}
	byGroup := make(map[string]*accum)
	for _, p := range preds {
		v, ok := p.Features[featureColumn]
		if !ok {
			continue
		}
		key := fmt.Sprintf("%v", v)
		a, ok := byGroup[key]
		if !ok {
			a = &accum{}
			byGroup[key] = a
		}
		a.total++
		if p.Label {
			a.predictedPositive++
		}
		if p.ActualLabel != nil {
			if *p.ActualLabel {
				a.actualPositives++
				if p.Label {
					a.truePositive++
				}
			} else {
				a.negatives++
				if p.Label {
					a.falsePositive++
				}
			}
		}
	}

	out := make([]GroupOutcomes, 0, len(byGroup))
	for group, a := range byGroup {
		out = append(out, GroupOutcomes{
			Group:             group,
			PositiveRate:      divide(a.predictedPositive, a.total),
			FalsePositiveRate: divide(a.falsePositive, a.negatives),
			TruePositiveRate:  divide(a.truePositive, a.actualPositives),
		})
	}
	return out
}
