// Package backfill imports a directory of exemplar letters as seed letters
// and optionally analyzes them. Runs are resumable: imported files and
// letter fingerprints are kept in a JSON state file.
package backfill

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/quill/internal/learning"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

// Config holds the import command configuration.
//
// With UserID set every .txt file under Dir belongs to that clinician.
// Otherwise files are laid out as Dir/<user>/<subspecialty>/*.txt or
// Dir/<user>/*.txt, the latter taking Subspecialty as the default.
type Config struct {
	Dir          string
	UserID       string
	Subspecialty string
	StatePath    string
	Source       string // source label for stored letters (default: "backfill")
	DryRun       bool
	Analyze      bool // analyze imported letters once the import finishes
	BatchSize    int  // save state every BatchSize letters
	Out          io.Writer
}

// Seeds stores and analyzes seed letters.
type Seeds interface {
	AddSeedLetter(ctx context.Context, l *style.SeedLetter) error
	AnalyzeSeedLetters(ctx context.Context, userID, subspecialty string) (learning.Outcome, error)
}

// Runner orchestrates the import.
type Runner struct {
	cfg    Config
	seeds  Seeds
	logger *slog.Logger
}

// NewRunner creates an import runner.
func NewRunner(cfg Config, seeds Seeds, logger *slog.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &Runner{cfg: cfg, seeds: seeds, logger: logger}
}

func (r *Runner) sourceLabel() string {
	if r.cfg.Source != "" {
		return r.cfg.Source
	}
	return "backfill"
}

// letterFile is a discovered file and the key it will be filed under.
type letterFile struct {
	path         string
	userID       string
	subspecialty string
}

// Summary reports what one run did, per profile key.
type Summary struct {
	Imported   map[string]int
	Duplicates int
	Skipped    int
	Errors     int
	Analyzed   map[string]int
}

// Run executes the import.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	sum := Summary{Imported: map[string]int{}, Analyzed: map[string]int{}}

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return sum, fmt.Errorf("load state: %w", err)
	}

	files, err := r.discoverFiles(state)
	if err != nil {
		return sum, fmt.Errorf("discover files: %w", err)
	}
	state.FilesRemaining = len(files)
	r.logger.Info("seed letters discovered", "files", len(files), "dir", r.cfg.Dir)

	inBatch := 0
	for _, f := range files {
		select {
		case <-ctx.Done():
			r.logger.Info("import interrupted, saving state")
			r.save(state)
			return sum, ctx.Err()
		default:
		}

		imported, err := r.importFile(ctx, state, f)
		if err != nil {
			r.logger.Error("import failed", "path", f.path, "error", err)
			state.AddError(fmt.Sprintf("import %s: %v", f.path, err))
			sum.Errors++
			continue
		}
		switch imported {
		case resultImported:
			sum.Imported[key(f.userID, f.subspecialty)]++
		case resultDuplicate:
			sum.Duplicates++
		case resultEmpty:
			sum.Skipped++
		}

		if !r.cfg.DryRun {
			state.MarkProcessed(f.path)
		}
		state.FilesRemaining--
		inBatch++
		if inBatch >= r.cfg.BatchSize {
			r.save(state)
			inBatch = 0
		}
	}
	r.save(state)

	if r.cfg.Analyze && !r.cfg.DryRun {
		r.analyze(ctx, &sum)
	}

	r.logger.Info("seed import complete",
		"files", len(files),
		"imported", total(sum.Imported),
		"duplicates", sum.Duplicates,
		"errors", sum.Errors,
		"dry_run", r.cfg.DryRun,
	)
	fmt.Fprint(r.cfg.Out, FormatSummary(sum, r.cfg.DryRun, state.Path()))
	return sum, nil
}

type importResult int

const (
	resultImported importResult = iota
	resultDuplicate
	resultEmpty
)

func (r *Runner) importFile(ctx context.Context, state *ImportState, f letterFile) (importResult, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return resultEmpty, nil
	}

	fp := Fingerprint(f.userID, f.subspecialty, text)
	if state.Seen(fp) {
		r.logger.Info("skipping duplicate letter", "path", f.path)
		state.Duplicates++
		return resultDuplicate, nil
	}

	if r.cfg.DryRun {
		state.Remember(fp)
		return resultImported, nil
	}

	l := &style.SeedLetter{
		UserID:       f.userID,
		Subspecialty: f.subspecialty,
		Text:         text,
		Source:       r.sourceLabel(),
	}
	if err := r.seeds.AddSeedLetter(ctx, l); err != nil {
		return 0, err
	}
	state.Remember(fp)
	state.LettersImported++
	r.logger.Info("seed letter imported", "path", f.path, "user_id", f.userID, "subspecialty", f.subspecialty)
	return resultImported, nil
}

func (r *Runner) analyze(ctx context.Context, sum *Summary) {
	keys := make([]string, 0, len(sum.Imported))
	for k := range sum.Imported {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		userID, sub, _ := strings.Cut(k, "/")
		out, err := r.seeds.AnalyzeSeedLetters(ctx, userID, sub)
		if err != nil {
			r.logger.Error("seed analysis failed", "user_id", userID, "subspecialty", sub, "error", err)
			sum.Errors++
			continue
		}
		if out.Analyzed {
			sum.Analyzed[k] = out.EditsAnalyzed
		}
	}
}

func (r *Runner) save(state *ImportState) {
	if r.cfg.DryRun {
		return
	}
	if err := state.Save(); err != nil {
		r.logger.Warn("failed to save import state", "path", state.Path(), "error", err)
	}
}

func (r *Runner) discoverFiles(state *ImportState) ([]letterFile, error) {
	root := expandHome(r.cfg.Dir)
	var out []letterFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".txt") {
			return nil
		}
		if state.IsProcessed(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		f, ok := r.classify(path, rel)
		if !ok {
			r.logger.Warn("cannot tell whose letter this is, skipping", "path", path)
			state.AddError(fmt.Sprintf("unfiled %s", path))
			return nil
		}
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

func (r *Runner) classify(path, rel string) (letterFile, bool) {
	f := letterFile{path: path, userID: r.cfg.UserID, subspecialty: r.cfg.Subspecialty}
	if f.userID != "" {
		return f, true
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	switch len(parts) {
	case 2:
		f.userID = parts[0]
	case 3:
		f.userID, f.subspecialty = parts[0], parts[1]
	default:
		return f, false
	}
	return f, true
}

func key(userID, subspecialty string) string {
	return userID + "/" + subspecialty
}

func total(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

// FormatSummary renders a run summary grouped by clinician and subspecialty.
func FormatSummary(sum Summary, dryRun bool, statePath string) string {
	keys := make([]string, 0, len(sum.Imported))
	for k := range sum.Imported {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("\n=== Seed Import Summary ===\n")
	for _, k := range keys {
		userID, sub, _ := strings.Cut(k, "/")
		if sub == "" {
			sub = "(all)"
		}
		fmt.Fprintf(&sb, "  %s [%s]: %d letters", userID, sub, sum.Imported[k])
		if n, ok := sum.Analyzed[k]; ok {
			fmt.Fprintf(&sb, ", %d sections analyzed", n)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Letters imported: %d\n", total(sum.Imported))
	fmt.Fprintf(&sb, "Duplicates skipped: %d\n", sum.Duplicates)
	fmt.Fprintf(&sb, "Empty files skipped: %d\n", sum.Skipped)
	fmt.Fprintf(&sb, "Errors: %d\n", sum.Errors)
	if dryRun {
		sb.WriteString("Mode: DRY RUN (no DB writes)\n")
	}
	fmt.Fprintf(&sb, "State file: %s\n", statePath)
	return sb.String()
}
