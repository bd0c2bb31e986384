package dispatch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/GuanceCloud/mkdocs-auto-translation/internal/dify"
	"github.com/GuanceCloud/mkdocs-auto-translation/internal/scanner"
)

// Translator translates one document's text.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string, wctx *dify.WorkerContext) (string, *dify.Result, error)
}

// Store answers whether a file needs translation and records successes.
// Both ledgers (long-lived and per-run) implement it.
type Store interface {
	NeedsTranslation(rel, language string) (bool, error)
	RecordSuccess(rel, language string, usage *dify.Usage) error
}

// Summary is the aggregate outcome of a run.
type Summary struct {
	Succeeded int
	Failed    int
}

// FilterEligible returns the files that survive the blacklist and whose
// content fingerprint requires translation. A file whose source cannot be
// read is logged and counted as failed; the run continues without it.
func FilterEligible(files []string, bl *scanner.Blacklist, store Store, language string) (eligible []string, failed int) {
	for _, rel := range files {
		if bl.Match(rel) {
			continue
		}
		needed, err := store.NeedsTranslation(rel, language)
		if err != nil {
			log.Printf("Error checking %s: %v", rel, err)
			failed++
			continue
		}
		if needed {
			eligible = append(eligible, rel)
		}
	}
	return eligible, failed
}

// Scheduler runs translations across a bounded pool of workers.
type Scheduler struct {
	SourceDir      string
	TargetDir      string
	TargetLanguage string
	Workers        int
	Translator     Translator
	Stores         []Store // success is recorded on every store, in order
}

// Run partitions files round-robin across the configured worker count and
// translates them concurrently. Partitioning is fixed at assignment time;
// workers that finish early do not steal from slower ones.
func (s *Scheduler) Run(ctx context.Context, files []string) Summary {
	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(files) {
		workers = len(files)
	}
	if len(files) == 0 {
		return Summary{}
	}

	assignments := make([][]string, workers)
	for i, rel := range files {
		assignments[i%workers] = append(assignments[i%workers], rel)
	}

	results := make([]Summary, workers)
	var wg sync.WaitGroup
	for id := range assignments {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			results[id] = s.runWorker(ctx, id, assignments[id])
		}(id)
	}
	wg.Wait()

	var total Summary
	for _, r := range results {
		total.Succeeded += r.Succeeded
		total.Failed += r.Failed
	}
	return total
}

// runWorker processes one worker's assignment in order. Each file gets a
// fresh WorkerContext owned by this worker alone.
func (s *Scheduler) runWorker(ctx context.Context, id int, files []string) Summary {
	var sum Summary
	for i, rel := range files {
		wctx := &dify.WorkerContext{
			ID:    id,
			Item:  i + 1,
			Total: len(files),
			Path:  rel,
		}
		fmt.Printf("%s: translating...\n", wctx)
		if err := s.processFile(ctx, rel, wctx); err != nil {
			log.Printf("Error translating %s: %v", rel, err)
			sum.Failed++
			continue
		}
		sum.Succeeded++
	}
	return sum
}

// processFile translates one file and writes the result into the target
// tree. The target file is only written on success; a failed translation
// leaves no partial content behind.
func (s *Scheduler) processFile(ctx context.Context, rel string, wctx *dify.WorkerContext) error {
	source := filepath.Join(s.SourceDir, filepath.FromSlash(rel))
	content, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}

	translated, result, err := s.Translator.Translate(ctx, string(content), s.TargetLanguage, wctx)
	if err != nil {
		return err
	}

	target := filepath.Join(s.TargetDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	if err := os.WriteFile(target, []byte(translated), 0644); err != nil {
		return fmt.Errorf("failed to write target file: %w", err)
	}

	var usage *dify.Usage
	if result != nil {
		u := result.Usage
		usage = &u
		fmt.Printf("%s: done (%d turns, %d tokens, %.2fs)\n",
			wctx, result.Turns, result.Usage.TotalTokens, result.Duration.Seconds())
	}
	for _, store := range s.Stores {
		if err := store.RecordSuccess(rel, s.TargetLanguage, usage); err != nil {
			// The translation itself succeeded; a ledger write failure only
			// costs a future re-translation.
			log.Printf("Warning: failed to record success for %s: %v", rel, err)
		}
	}
	return nil
}
