package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GuanceCloud/mkdocs-auto-translation/internal/dify"
)

// FileRecord is the persisted state of one translated file.
type FileRecord struct {
	Hash           string      `json:"hash"`
	Language       string      `json:"language,omitempty"`
	LastTranslated time.Time   `json:"last_translated"`
	Usage          *dify.Usage `json:"usage,omitempty"`
}

// Ledger is a flat JSON store keyed by relative slash path. All mutations
// are serialized by a mutex and followed by a full rewrite of the file; a
// process crash mid-write can corrupt the store (known limitation).
type Ledger struct {
	path      string
	sourceDir string

	mu      sync.Mutex
	records map[string]FileRecord
}

// Open loads the ledger at path, which fingerprints files under sourceDir.
// A missing ledger file yields an empty store.
func Open(path, sourceDir string) (*Ledger, error) {
	l := &Ledger{
		path:      path,
		sourceDir: sourceDir,
		records:   make(map[string]FileRecord),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &l.records); err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", path, err)
	}
	return l, nil
}

// NeedsTranslation reports whether the file at the relative path rel must
// be (re)translated into language. It fails if the source file cannot be
// read. The target language is part of the effective cache key: a record
// written for a different language is stale.
func (l *Ledger) NeedsTranslation(rel, language string) (bool, error) {
	hash, err := l.sourceHash(rel)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	rec, ok := l.records[filepath.ToSlash(rel)]
	l.mu.Unlock()

	if !ok {
		return true, nil
	}
	return rec.Hash != hash || rec.Language != language, nil
}

// RecordSuccess stores the current source fingerprint for rel along with
// the translation's usage metadata and persists the whole store. It must be
// called after the translation succeeded; the digest is recomputed from the
// source file, not the translated output.
func (l *Ledger) RecordSuccess(rel, language string, usage *dify.Usage) error {
	hash, err := l.sourceHash(rel)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[filepath.ToSlash(rel)] = FileRecord{
		Hash:           hash,
		Language:       language,
		LastTranslated: time.Now(),
		Usage:          usage,
	}
	return l.save()
}

// Clear resets the ledger to empty and persists immediately. The per-run
// ledger is cleared at the start of every run so it records only what that
// run touched.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]FileRecord)
	return l.save()
}

// Len returns the number of recorded files.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Record returns the stored record for rel, if any.
func (l *Ledger) Record(rel string) (FileRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[filepath.ToSlash(rel)]
	return rec, ok
}

// save rewrites the ledger file. Callers must hold l.mu.
func (l *Ledger) save() error {
	data, err := json.MarshalIndent(l.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write ledger %s: %w", l.path, err)
	}
	return nil
}

// sourceHash computes the content digest of the source file for rel.
func (l *Ledger) sourceHash(rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(l.sourceDir, filepath.FromSlash(rel)))
	if err != nil {
		return "", fmt.Errorf("failed to read source file %s: %w", rel, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
