package inference

import (
	"context"
	"sync/atomic"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/artifacts"
	"github.com/r3e-network/fraudctl/internal/app/storage"
	"github.com/r3e-network/fraudctl/pkg/logger"
)

// ModelHolder holds the hot PRODUCTION model reference and swaps it
// atomically on ModelActivated, so Predict never blocks on a lock to read
// the current model: the hot reference is an atomic pointer swapped on
// promotion, never a read-lock-guarded mutable field.
type ModelHolder struct {
	name     string
	artifact *artifacts.Store
	catalog  storage.Catalog
	log      *logger.Logger

	current atomic.Pointer[loadedModel]
}

// NewModelHolder builds a holder for the named Model and subscribes it to
// the catalog's change feed for hot-swap on future promotions. Call Start to
// perform the initial load.
func NewModelHolder(name string, artifact *artifacts.Store, catalog storage.Catalog, log *logger.Logger) *ModelHolder {
	h := &ModelHolder{name: name, artifact: artifact, catalog: catalog, log: log}
	catalog.OnModelActivated(func(evt storage.ModelActivatedEvent) {
		if evt.ModelName != name {
			return
		}
		// The catalog invokes change-feed subscribers synchronously while
		// still holding its own write lock (see storage/memory), so this
		// must return immediately rather than calling back into the
		// catalog from the same goroutine.
		go h.reload(context.Background(), evt.ModelID)
	})
	return h
}

// Start loads the current PRODUCTION model synchronously so the service
// never serves before it has a model to score with.
func (h *ModelHolder) Start(ctx context.Context) error {
	m, err := h.catalog.GetProductionModel(ctx, h.name)
	if err != nil {
		return err
	}
	lm, err := loadModel(ctx, h.artifact, m)
	if err != nil {
		return err
	}
	h.current.Store(lm)
	return nil
}

func (h *ModelHolder) reload(ctx context.Context, modelID string) {
	m, err := h.catalog.GetModel(ctx, modelID)
	if err != nil {
		h.log.WithError(err).Error("inference: failed to fetch newly activated model")
		return
	}
	lm, err := loadModel(ctx, h.artifact, m)
	if err != nil {
		h.log.WithError(err).Error("inference: failed to load newly activated model, keeping previous version hot")
		return
	}
	h.current.Store(lm)
	h.log.WithField("model_id", modelID).WithField("version", m.Version).Info("inference: hot-swapped production model")
}

// Current returns the currently hot model snapshot, or an error if none has
// loaded yet.
func (h *ModelHolder) Current() (*loadedModel, error) {
	lm := h.current.Load()
	if lm == nil {
		return nil, apperr.NewUpstreamUnavailable("inference", nil)
	}
	return lm, nil
}
