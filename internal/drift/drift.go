// Package drift detects when a draft plan document has changed since tasks
// were last accepted from it. The detector keeps an in-memory mtime-keyed
// hash cache so an unchanged file is never rehashed on repeated polls; the
// cache is not persisted and is safely rebuilt on restart.
package drift

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"
)

// Status is the drift verdict for a draft against an accepted hash.
type Status struct {
	// Drifted is true when the draft's current content hash differs from
	// the hash recorded at acceptance: a newer draft exists than what was
	// last accepted. Consumers prompt for re-acceptance; nothing here
	// mutates tasks.
	Drifted   bool   `json:"drifted"`
	DraftHash string `json:"draft_hash"`
}

type cacheEntry struct {
	mtime time.Time
	size  int64
	hash  string
}

// Detector computes content hashes of draft plan files, cached per path by
// modification time. Safe for concurrent use.
type Detector struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewDetector creates an empty detector.
func NewDetector() *Detector {
	return &Detector{cache: make(map[string]cacheEntry)}
}

// HashFile returns the hex-encoded sha256 of the file's content. The hash is
// recomputed only when the file's modification time (or size) differs from
// the cached observation for that path.
func (d *Detector) HashFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat draft %s: %w", path, err)
	}

	d.mu.Lock()
	entry, ok := d.cache[path]
	d.mu.Unlock()
	if ok && entry.mtime.Equal(info.ModTime()) && entry.size == info.Size() {
		return entry.hash, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read draft %s: %w", path, err)
	}
	hash := HashBytes(data)

	d.mu.Lock()
	d.cache[path] = cacheEntry{mtime: info.ModTime(), size: info.Size(), hash: hash}
	d.mu.Unlock()

	return hash, nil
}

// Status compares the draft's (possibly cached) content hash against the
// hash recorded when tasks were accepted. An empty acceptedHash means
// nothing has been accepted yet and always reads as drifted.
func (d *Detector) Status(draftPath, acceptedHash string) (*Status, error) {
	draftHash, err := d.HashFile(draftPath)
	if err != nil {
		return nil, err
	}
	return &Status{
		Drifted:   draftHash != acceptedHash,
		DraftHash: draftHash,
	}, nil
}

// HashBytes returns the hex-encoded sha256 of data. It is the single hash
// definition shared by drift detection and plan acceptance so the two always
// agree.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
