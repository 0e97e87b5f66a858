// Package diag produces brotli-compressed JSON snapshots of registry
// state for operator diagnosis. cmd/castfs writes one on SIGUSR1 when
// -diag-dump is set; the admin HTTP server has no dump endpoint.
package diag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/castfs/castfs/internal/registry"
)

// EntrySnapshot is the JSON-serializable view of one CacheEntryHandle.
type EntrySnapshot struct {
	SourcePath    string    `json:"source_path"`
	Recipe        string    `json:"recipe"`
	Artifact      string    `json:"artifact"`
	State         string    `json:"state"`
	RefCount      int       `json:"ref_count"`
	PredictedSize uint64    `json:"predicted_size"`
	EncodedSize   uint64    `json:"encoded_size"`
	Finished      bool      `json:"finished"`
	Errored       bool      `json:"errored"`
	CreatedAt     time.Time `json:"created_at"`
	AccessedAt    time.Time `json:"accessed_at"`
}

// Snapshot is the top-level document written by Dump.
type Snapshot struct {
	GeneratedAt time.Time       `json:"generated_at"`
	IsLeader    bool            `json:"is_leader"`
	Entries     []EntrySnapshot `json:"entries"`
}

// Build renders reg's current state into a Snapshot. isLeader is supplied
// by the caller (internal/leader.Elector.IsLeader), since this package has
// no dependency on leader election itself.
func Build(reg *registry.Registry, isLeader bool, now time.Time) Snapshot {
	handles := reg.Snapshot()
	out := Snapshot{GeneratedAt: now, IsLeader: isLeader, Entries: make([]EntrySnapshot, 0, len(handles))}
	for _, h := range handles {
		errored, _ := h.Entry.LastError()
		out.Entries = append(out.Entries, EntrySnapshot{
			SourcePath:    h.Key.SourcePath,
			Recipe:        h.Key.Recipe.String(),
			Artifact:      h.Artifact,
			State:         h.Entry.State().String(),
			RefCount:      h.Entry.RefCount(),
			PredictedSize: h.Entry.PredictedSize(),
			EncodedSize:   h.Entry.EncodedSize(),
			Finished:      h.Entry.Finished(),
			Errored:       errored,
			CreatedAt:     h.Entry.CreatedAt(),
			AccessedAt:    h.Entry.AccessedAt(),
		})
	}
	return out
}

// Dump writes snap to path as brotli-compressed JSON, following the
// teacher's catalog.Save temp-file-then-rename strategy so a concurrent
// reader never observes a partially written dump.
func Dump(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("diag: marshal: %w", err)
	}

	dir := filepath.Dir(filepath.Clean(path))
	tmp, err := os.CreateTemp(dir, ".diag-*.json.br.tmp")
	if err != nil {
		return fmt.Errorf("diag: create temp: %w", err)
	}
	tmpName := tmp.Name()

	bw := brotli.NewWriter(tmp)
	_, writeErr := bw.Write(data)
	closeWriterErr := bw.Close()
	closeFileErr := tmp.Close()
	if writeErr != nil || closeWriterErr != nil || closeFileErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("diag: write: %w", writeErr)
		}
		if closeWriterErr != nil {
			return fmt.Errorf("diag: close brotli writer: %w", closeWriterErr)
		}
		return fmt.Errorf("diag: close temp file: %w", closeFileErr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("diag: rename: %w", err)
	}
	return nil
}

// Load reads and decompresses a dump written by Dump, for tests and for
// an operator inspecting a snapshot offline.
func Load(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()

	var out Snapshot
	dec := json.NewDecoder(brotli.NewReader(f))
	if err := dec.Decode(&out); err != nil {
		return Snapshot{}, fmt.Errorf("diag: decode: %w", err)
	}
	return out, nil
}
