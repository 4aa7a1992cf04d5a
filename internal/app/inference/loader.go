package inference

import (
	"context"
	"encoding/json"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/artifacts"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/training"
)

// loadedModel is the immutable snapshot swapped in by holder.go whenever a
// ModelActivated event fires. Every field is read-only after construction so
// concurrent Predict calls never need to lock it.
type loadedModel struct {
	record    model.Model
	algorithm training.Algorithm
	explainer *training.Explainer
}

// loadModel hydrates a scoring-ready snapshot for m's current PRODUCTION
// artifacts. The explainer is loaded eagerly too: explanation is off the hot
// path but must not add an artifact round-trip to the first explained
// prediction after a swap.
func loadModel(ctx context.Context, store *artifacts.Store, m model.Model) (*loadedModel, error) {
	nativeRef, err := artifacts.ParseRef(m.NativeArtifactRef)
	if err != nil {
		return nil, err
	}
	nativeBytes, err := store.Get(ctx, nativeRef)
	if err != nil {
		return nil, err
	}
	algo, err := training.Deserialize(m.Algorithm, nativeBytes)
	if err != nil {
		return nil, err
	}

	lm := &loadedModel{record: m, algorithm: algo}

	if m.ExplainerRef != "" {
		explainerRef, err := artifacts.ParseRef(m.ExplainerRef)
		if err != nil {
			return nil, err
		}
		explainerBytes, err := store.Get(ctx, explainerRef)
		if err != nil {
			return nil, err
		}
		var exp training.Explainer
		if err := json.Unmarshal(explainerBytes, &exp); err != nil {
			return nil, apperr.Wrap(apperr.ArtifactCorrupted, "explainer artifact unreadable", err)
		}
		lm.explainer = &exp
	}

	return lm, nil
}
