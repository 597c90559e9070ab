// Package importer moves notes, folders and threads in and out of the local
// store as JSONL.
//
// Each line is one JSON object with a "kind" field ("folder", "note" or
// "thread") and the entity's own fields:
//
//	{"kind":"folder","id":"f1","name":"Work","parentId":null,...}
//	{"kind":"note","id":"n1","title":"Hello","content":"# Hello",...}
//
// Imported records are written with UpsertMany and never enqueue outbox
// operations.
package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/graphnode/gnsync/internal/repo"
	"github.com/graphnode/gnsync/internal/store/schema"
)

// Record kinds.
const (
	KindFolder = "folder"
	KindNote   = "note"
	KindThread = "thread"
)

// maxLineSize bounds one JSONL record.
const maxLineSize = 16 << 20

// Batch holds decoded records grouped by kind, in file order.
type Batch struct {
	Folders []*schema.Folder
	Notes   []*schema.Note
	Threads []*schema.Thread
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	return len(b.Folders) + len(b.Notes) + len(b.Threads)
}

// Options controls Import.
type Options struct {
	DryRun  bool // Decode and validate without writing
	Replace bool // Clear notes, folders and threads before writing
}

// Result contains statistics about an import or export.
type Result struct {
	Folders int
	Notes   int
	Threads int
}

// Read decodes JSONL records from r. Blank lines are skipped. Missing note
// titles are derived from content and missing timestamps default to now.
func Read(r io.Reader, now time.Time) (*Batch, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	batch := &Batch{}
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var head struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal([]byte(line), &head); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}

		switch head.Kind {
		case KindFolder:
			var folder schema.Folder
			if err := json.Unmarshal([]byte(line), &folder); err != nil {
				return nil, fmt.Errorf("invalid folder at line %d: %w", lineNum, err)
			}
			setFolderDefaults(&folder, now)
			batch.Folders = append(batch.Folders, &folder)
		case KindNote:
			var note schema.Note
			if err := json.Unmarshal([]byte(line), &note); err != nil {
				return nil, fmt.Errorf("invalid note at line %d: %w", lineNum, err)
			}
			setNoteDefaults(&note, now)
			batch.Notes = append(batch.Notes, &note)
		case KindThread:
			var thread schema.Thread
			if err := json.Unmarshal([]byte(line), &thread); err != nil {
				return nil, fmt.Errorf("invalid thread at line %d: %w", lineNum, err)
			}
			setThreadDefaults(&thread, now)
			batch.Threads = append(batch.Threads, &thread)
		default:
			return nil, fmt.Errorf("unknown record kind %q at line %d", head.Kind, lineNum)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL: %w", err)
	}

	return batch, nil
}

func setNoteDefaults(n *schema.Note, now time.Time) {
	if n.Title == "" {
		n.Title = schema.ExtractTitle(n.Content)
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = now
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = n.UpdatedAt
	}
}

func setFolderDefaults(f *schema.Folder, now time.Time) {
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = now
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = f.UpdatedAt
	}
}

func setThreadDefaults(t *schema.Thread, now time.Time) {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	for i := range t.Messages {
		if t.Messages[i].TS.IsZero() {
			t.Messages[i].TS = t.UpdatedAt
		}
	}
}

// Validate checks every record and returns the first failure with its kind
// and id.
func (b *Batch) Validate() error {
	for _, f := range b.Folders {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("folder %q: %w", f.ID, err)
		}
	}
	for _, n := range b.Notes {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("note %q: %w", n.ID, err)
		}
	}
	for _, t := range b.Threads {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("thread %q: %w", t.ID, err)
		}
	}
	return nil
}

// Import reads JSONL from r into the store. All records, and the clearing
// done by Options.Replace, are written in one transaction.
func Import(ctx context.Context, repos *repo.Set, r io.Reader, opts Options) (*Result, error) {
	batch, err := Read(r, time.Now())
	if err != nil {
		return nil, err
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	result := &Result{
		Folders: len(batch.Folders),
		Notes:   len(batch.Notes),
		Threads: len(batch.Threads),
	}
	if opts.DryRun {
		return result, nil
	}

	snap := repo.Snapshot{
		Folders: batch.Folders,
		Notes:   batch.Notes,
		Threads: batch.Threads,
	}
	if err := repos.Load(ctx, snap, opts.Replace); err != nil {
		return nil, fmt.Errorf("failed to import: %w", err)
	}

	return result, nil
}

// ImportFile imports the JSONL file at path.
func ImportFile(ctx context.Context, repos *repo.Set, path string, opts Options) (*Result, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	return Import(ctx, repos, file, opts)
}

// Export writes every folder, note and thread to w, in that order.
func Export(ctx context.Context, repos *repo.Set, w io.Writer) (*Result, error) {
	folders, err := repos.Folders.List(ctx)
	if err != nil {
		return nil, err
	}
	notes, err := repos.Notes.List(ctx, repo.ListNotesFilter{})
	if err != nil {
		return nil, err
	}
	threads, err := repos.Threads.List(ctx)
	if err != nil {
		return nil, err
	}

	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)

	for _, f := range folders {
		if err := encoder.Encode(record{Kind: KindFolder, Value: f}); err != nil {
			return nil, fmt.Errorf("failed to write folder %s: %w", f.ID, err)
		}
	}
	for _, n := range notes {
		if err := encoder.Encode(record{Kind: KindNote, Value: n}); err != nil {
			return nil, fmt.Errorf("failed to write note %s: %w", n.ID, err)
		}
	}
	for _, t := range threads {
		if err := encoder.Encode(record{Kind: KindThread, Value: t}); err != nil {
			return nil, fmt.Errorf("failed to write thread %s: %w", t.ID, err)
		}
	}

	return &Result{Folders: len(folders), Notes: len(notes), Threads: len(threads)}, nil
}

// ExportFile writes the export to path atomically via a temp file.
func ExportFile(ctx context.Context, repos *repo.Set, path string) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	result, err := Export(ctx, repos, file)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// record flattens an entity and its kind into one JSON object.
type record struct {
	Kind  string
	Value any
}

func (r record) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(r.Value)
	if err != nil {
		return nil, err
	}
	kind, err := json.Marshal(r.Kind)
	if err != nil {
		return nil, err
	}
	if len(data) < 2 || data[0] != '{' {
		return nil, fmt.Errorf("record value must be a JSON object")
	}

	out := make([]byte, 0, len(data)+len(kind)+10)
	out = append(out, `{"kind":`...)
	out = append(out, kind...)
	if len(data) > 2 {
		out = append(out, ',')
	}
	out = append(out, data[1:]...)
	return out, nil
}
