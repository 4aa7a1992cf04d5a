// Package artifacts implements the content-addressed store: datasets,
// feature matrices and model files are written once under a namespace and
// retrieved by their SHA-256 hash, which is verified on every read.
package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/platform"
)

// Kind namespaces stored content by what it is.
type Kind string

const (
	KindDataset        Kind = "dataset"
	KindFeatures       Kind = "features"
	KindModelNative    Kind = "model_native"
	KindModelPortable  Kind = "model_portable"
	KindReport         Kind = "report"
)

// Ref identifies one stored blob within a namespace.
type Ref struct {
	Kind Kind
	Hash string
}

// String renders a Ref as "kind/hash", the form persisted in catalog rows.
func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.Hash)
}

// ParseRef parses the "kind/hash" form back into a Ref.
func ParseRef(s string) (Ref, error) {
	idx := bytes.IndexByte([]byte(s), '/')
	if idx < 0 {
		return Ref{}, apperr.NewValidation("invalid artifact ref: " + s)
	}
	return Ref{Kind: Kind(s[:idx]), Hash: s[idx+1:]}, nil
}

// Store wraps a platform.ContentDriver with write-once and namespace
// semantics. The driver itself only knows about raw hash-addressed bytes;
// Store layers kind-scoped keys and corruption detection on top of it.
type Store struct {
	driver platform.ContentDriver
}

// New wraps driver with the artifact-store semantics.
func New(driver platform.ContentDriver) *Store {
	return &Store{driver: driver}
}

func namespacedKey(kind Kind, hash string) string {
	sum := sha256.Sum256([]byte(string(kind) + ":" + hash))
	return hex.EncodeToString(sum[:])
}

// Put writes content under kind, write-once: if the (kind, content hash)
// key already exists, Put returns the existing ref without writing, so
// stored bytes are never overwritten. The existing bytes are not compared
// with content.
func (s *Store) Put(ctx context.Context, kind Kind, content []byte) (Ref, error) {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	key := namespacedKey(kind, hash)

	if exists, err := s.driver.Exists(ctx, key); err != nil {
		return Ref{}, apperr.NewUpstreamUnavailable("artifact store", err)
	} else if exists {
		return Ref{Kind: kind, Hash: hash}, nil
	}

	if _, err := s.driver.StoreWithMetadata(ctx, content, platform.ContentMetadata{
		Hash:        key,
		Size:        int64(len(content)),
		ContentType: string(kind),
	}); err != nil {
		return Ref{}, apperr.NewUpstreamUnavailable("artifact store", err)
	}
	return Ref{Kind: kind, Hash: hash}, nil
}

// Get retrieves and verifies content for ref. A checksum mismatch returns
// ArtifactCorrupted, never a silently-returned bad buffer.
func (s *Store) Get(ctx context.Context, ref Ref) ([]byte, error) {
	key := namespacedKey(ref.Kind, ref.Hash)
	content, err := s.driver.Retrieve(ctx, key)
	if err != nil {
		if _, ok := err.(platform.ErrContentNotFound); ok {
			return nil, apperr.NewNotFound("artifact", ref.String())
		}
		return nil, apperr.NewUpstreamUnavailable("artifact store", err)
	}

	sum := sha256.Sum256(content)
	if hex.EncodeToString(sum[:]) != ref.Hash {
		return nil, apperr.NewArtifactCorrupted(ref.String(), fmt.Errorf("checksum mismatch"))
	}
	return content, nil
}

// Stat returns the size and hash of a stored artifact without reading its body.
func (s *Store) Stat(ctx context.Context, ref Ref) (size int64, sha256Hex string, err error) {
	meta, err := s.driver.GetMetadata(ctx, namespacedKey(ref.Kind, ref.Hash))
	if err != nil {
		if _, ok := err.(platform.ErrContentNotFound); ok {
			return 0, "", apperr.NewNotFound("artifact", ref.String())
		}
		return 0, "", apperr.NewUpstreamUnavailable("artifact store", err)
	}
	return meta.Size, ref.Hash, nil
}

// Delete removes a stored artifact. Idempotent: deleting a missing ref is
// not an error, matching platform.ContentDriver's own idempotent Delete.
func (s *Store) Delete(ctx context.Context, ref Ref) error {
	if err := s.driver.Delete(ctx, namespacedKey(ref.Kind, ref.Hash)); err != nil {
		return apperr.NewUpstreamUnavailable("artifact store", err)
	}
	return nil
}

// StreamGet copies verified content to w. platform.ContentDriver has no
// streaming Retrieve variant, so this buffers once in Get and streams the
// copy out; a driver backed by large model files would need a streaming
// ContentDriver extension to keep memory use bounded.
func (s *Store) StreamGet(ctx context.Context, ref Ref, w io.Writer) error {
	content, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, bytes.NewReader(content))
	return err
}
