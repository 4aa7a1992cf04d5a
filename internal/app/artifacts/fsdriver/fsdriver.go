// Package fsdriver implements platform.ContentDriver over the local
// filesystem: the default artifact-store backend for single-node
// deployments, with
// object storage as the production swap-in behind the same interface.
package fsdriver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/r3e-network/fraudctl/internal/platform"
)

// Driver stores each hash as one file under root plus a sidecar .meta.json
// file carrying platform.ContentMetadata.
type Driver struct {
	root string
	mu   sync.Mutex
}

var _ platform.ContentDriver = (*Driver)(nil)

// New returns a Driver rooted at dir. The directory is created lazily on Start.
func New(dir string) *Driver {
	return &Driver{root: dir}
}

func (d *Driver) Name() string { return "fsdriver" }

func (d *Driver) Start(_ context.Context) error {
	return os.MkdirAll(d.root, 0o755)
}

func (d *Driver) Stop(_ context.Context) error { return nil }

func (d *Driver) Ping(_ context.Context) error {
	_, err := os.Stat(d.root)
	return err
}

func (d *Driver) blobPath(hash string) string { return filepath.Join(d.root, hash) }
func (d *Driver) metaPath(hash string) string  { return filepath.Join(d.root, hash+".meta.json") }

func (d *Driver) Store(ctx context.Context, content []byte) (string, error) {
	sum := sha256.Sum256(content)
	return d.StoreWithMetadata(ctx, content, platform.ContentMetadata{Hash: hex.EncodeToString(sum[:])})
}

func (d *Driver) StoreWithMetadata(_ context.Context, content []byte, meta platform.ContentMetadata) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	hash := meta.Hash
	if hash == "" {
		return "", os.ErrInvalid
	}

	path := d.blobPath(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil // write-once: already present
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}

	meta.Size = int64(len(content))
	meta.CreatedAt = time.Now().UTC()
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(d.metaPath(hash), metaBytes, 0o644); err != nil {
		return "", err
	}
	return hash, nil
}

func (d *Driver) Retrieve(_ context.Context, hash string) ([]byte, error) {
	content, err := os.ReadFile(d.blobPath(hash))
	if os.IsNotExist(err) {
		return nil, platform.ErrContentNotFound{Hash: hash}
	}
	return content, err
}

func (d *Driver) Exists(_ context.Context, hash string) (bool, error) {
	_, err := os.Stat(d.blobPath(hash))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (d *Driver) Delete(_ context.Context, hash string) error {
	if err := os.Remove(d.blobPath(hash)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(d.metaPath(hash)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *Driver) GetMetadata(_ context.Context, hash string) (*platform.ContentMetadata, error) {
	raw, err := os.ReadFile(d.metaPath(hash))
	if os.IsNotExist(err) {
		return nil, platform.ErrContentNotFound{Hash: hash}
	}
	if err != nil {
		return nil, err
	}
	var meta platform.ContentMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
