package features

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/r3e-network/fraudctl/internal/app/artifacts"
	"github.com/r3e-network/fraudctl/internal/app/artifacts/fsdriver"
	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
)

type zeroHistory struct{}

func (zeroHistory) Aggregate(string, time.Duration, time.Time) (int, float64, float64) {
	return 0, 0, 0
}

func (zeroHistory) Prior(string, time.Time) (int, time.Time, time.Time) {
	return 0, time.Time{}, time.Time{}
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	d := fsdriver.New(t.TempDir())
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start driver: %v", err)
	}
	return NewPipeline(artifacts.New(d), NewStaticHolidayCalendar())
}

func sampleTransactions() []Transaction {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	var txs []Transaction
	for i := 0; i < 20; i++ {
		label := 0.0
		amount := 25.0
		if i%5 == 0 {
			label = 1
			amount = 900
		}
		txs = append(txs, Transaction{
			ID:          "tx-" + strconv.Itoa(i),
			UserID:      "user-1",
			EventTime:   base.Add(time.Duration(i) * time.Hour),
			Amount:      amount,
			Merchant:    "acme",
			PaymentType: "card",
			Device:      "mobile",
			Country:     "US",
			HomeCountry: "US",
			Label:       label,
		})
	}
	return txs
}

func TestPipelineRunProducesCompletedFeatureSet(t *testing.T) {
	p := newTestPipeline(t)
	fs := featureset.FeatureSet{
		ID:        "fs-1",
		DatasetID: "ds-1",
		Name:      "v1",
		Config:    DefaultConfig(),
	}

	out, err := p.Run(context.Background(), fs, sampleTransactions(), zeroHistory{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != featureset.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", out.Status, out.FailureError)
	}
	if out.ArtifactRef == "" {
		t.Fatalf("expected an artifact ref to be set")
	}
	if out.SchemaHash == "" {
		t.Fatalf("expected a schema hash to be set")
	}
	if len(out.SelectedFeatures) == 0 {
		t.Fatalf("expected at least one selected feature")
	}
}

func TestPipelineRunFailsOnEmptyInput(t *testing.T) {
	p := newTestPipeline(t)
	fs := featureset.FeatureSet{ID: "fs-1", DatasetID: "ds-1", Config: DefaultConfig()}

	out, err := p.Run(context.Background(), fs, nil, zeroHistory{})
	if err == nil {
		t.Fatalf("expected an error for empty transaction input")
	}
	if out.Status != featureset.StatusFailed {
		t.Fatalf("expected FAILED, got %s", out.Status)
	}
	if out.FailureError == "" {
		t.Fatalf("expected FailureError to be populated")
	}
}

func TestPipelineLoadMatrixRoundTrip(t *testing.T) {
	p := newTestPipeline(t)
	fs := featureset.FeatureSet{ID: "fs-1", DatasetID: "ds-1", Config: DefaultConfig()}

	out, err := p.Run(context.Background(), fs, sampleTransactions(), zeroHistory{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	matrix, err := p.LoadMatrix(context.Background(), out.ArtifactRef)
	if err != nil {
		t.Fatalf("load matrix: %v", err)
	}
	if matrix.Rows() != len(sampleTransactions()) {
		t.Fatalf("expected %d rows, got %d", len(sampleTransactions()), matrix.Rows())
	}
	for _, f := range out.SelectedFeatures {
		if _, ok := matrix.Data[f]; !ok {
			t.Fatalf("expected loaded matrix to contain selected feature %q", f)
		}
	}
}
