// Package migrate moves local store contents in and out of JSONL files,
// for device-to-device transfer and for backups taken before risky
// operations.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/thsalrkd/todaydo/internal/localstore"
	"github.com/thsalrkd/todaydo/internal/model"
)

// Collections bundles the stores a migration touches.
type Collections struct {
	Todos    *localstore.Todos
	Routines *localstore.Routines
	Records  *localstore.Records
	Tags     *localstore.Tags
	Profiles *localstore.Profiles
}

// line is the JSONL envelope: one document per line, tagged with its kind.
type line struct {
	Kind model.Kind      `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Options configures an import.
type Options struct {
	DryRun bool // parse and count without writing
	Backup bool // snapshot the input file before importing
}

// Result reports what an import did.
type Result struct {
	Imported      map[model.Kind]int
	BackupCreated string
	Errors        []string
}

// Export writes every collection to path as JSONL. The write is atomic:
// the file appears complete or not at all.
func Export(ctx context.Context, c Collections, path string) (int, error) {
	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	total := 0

	if err := exportKind(ctx, w, c.Todos, &total); err != nil {
		return 0, err
	}
	if err := exportKind(ctx, w, c.Routines, &total); err != nil {
		return 0, err
	}
	if err := exportKind(ctx, w, c.Records, &total); err != nil {
		return 0, err
	}
	if err := exportKind(ctx, w, c.Tags, &total); err != nil {
		return 0, err
	}
	if err := exportKind(ctx, w, c.Profiles, &total); err != nil {
		return 0, err
	}

	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush export: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close export: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to finalize export: %w", err)
	}
	return total, nil
}

// Import reads a JSONL export into the collections. Existing documents
// with the same key are overwritten; everything else is untouched.
// Undecodable lines are collected as errors, not fatal: a single bad
// line must not abort restoring the rest of a backup.
func Import(ctx context.Context, c Collections, path string, opts Options) (*Result, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("input file does not exist: %w", err)
	}

	result := &Result{Imported: make(map[model.Kind]int)}

	if opts.Backup && !opts.DryRun {
		backupPath := path + ".backup." + time.Now().Format("20060102-150405")
		input, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var l line
		if err := json.Unmarshal(raw, &l); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("line %d: invalid JSON: %v", lineNum, err))
			continue
		}

		if err := importLine(ctx, c, l, opts.DryRun); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("line %d: %v", lineNum, err))
			continue
		}
		result.Imported[l.Kind]++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading import file: %w", err)
	}

	return result, nil
}

func importLine(ctx context.Context, c Collections, l line, dryRun bool) error {
	switch l.Kind {
	case model.KindTodo:
		return importOne(ctx, c.Todos, l.Body, dryRun)
	case model.KindRoutine:
		return importOne(ctx, c.Routines, l.Body, dryRun)
	case model.KindRecord:
		return importOne(ctx, c.Records, l.Body, dryRun)
	case model.KindTag:
		return importOne(ctx, c.Tags, l.Body, dryRun)
	case model.KindProfile:
		return importOne(ctx, c.Profiles, l.Body, dryRun)
	default:
		return fmt.Errorf("unknown kind %q", l.Kind)
	}
}

func importOne[T any, P interface {
	*T
	model.Entity
}](ctx context.Context, col *localstore.Collection[T, P], body json.RawMessage, dryRun bool) error {
	var e T
	if err := json.Unmarshal(body, &e); err != nil {
		return fmt.Errorf("invalid %s body: %w", col.Kind(), err)
	}
	p := P(&e)
	if p.Key() == "" {
		return fmt.Errorf("%s document has no key", col.Kind())
	}
	if dryRun {
		return nil
	}
	return col.Sync(ctx, p)
}

func exportKind[T any, P interface {
	*T
	model.Entity
}](ctx context.Context, w *bufio.Writer, col *localstore.Collection[T, P], total *int) error {
	entities, err := col.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to export %s collection: %w", col.Kind(), err)
	}

	enc := json.NewEncoder(w)
	for _, e := range entities {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s: %w", col.Kind(), e.Key(), err)
		}
		if err := enc.Encode(line{Kind: col.Kind(), Body: body}); err != nil {
			return fmt.Errorf("failed to encode %s line: %w", col.Kind(), err)
		}
		*total++
	}
	return nil
}
