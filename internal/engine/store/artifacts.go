package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
)

const stageStore = "store"

// Artifact is everything Persist needs to finish one job.
type Artifact struct {
	OwnerID        int64
	FileName       string // value stored in the record's file_name
	MediaPath      string // local media asset, re-read for the record blob
	TranscriptName string // base name under the output directory
	Transcript     string
}

// Saved describes a committed job.
type Saved struct {
	RecordID       int64
	TranscriptPath string
	CreatedAt      time.Time
}

// Artifacts writes transcript files under one output directory, commits
// records, and serves transcripts back by name.
type Artifacts struct {
	repo      Repository
	outputDir string
	cache     *engine.TieredCache
	logger    *slog.Logger
}

// NewArtifacts returns an artifact store. cache may be nil.
func NewArtifacts(repo Repository, outputDir string, cache *engine.TieredCache, logger *slog.Logger) *Artifacts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Artifacts{
		repo:      repo,
		outputDir: outputDir,
		cache:     cache,
		logger:    logger.With("component", "artifacts"),
	}
}

// Persist writes the transcript file, re-reads the media asset and commits
// the record, in that order. A committed record therefore implies both files
// are on disk. Nothing is committed if ctx is done before the commit.
func (a *Artifacts) Persist(ctx context.Context, art Artifact) (Saved, error) {
	if !validName(art.TranscriptName) {
		return Saved{}, engine.NewError(engine.KindInternal, stageStore, "invalid transcript name", nil)
	}
	outPath := filepath.Join(a.outputDir, art.TranscriptName)

	if _, err := engine.WriteFileAtomic(outPath, strings.NewReader(art.Transcript), engine.WriteOptions{}); err != nil {
		return Saved{}, engine.NewError(engine.KindInternal, stageStore, "write transcript", err)
	}

	media, err := os.ReadFile(art.MediaPath)
	if err != nil {
		return Saved{}, engine.NewError(engine.KindInternal, stageStore, "read media asset", err)
	}

	if err := ctx.Err(); err != nil {
		return Saved{}, engine.NewError(engine.KindInternal, stageStore, "job cancelled before commit", err)
	}

	rec, err := a.repo.SaveTranscription(ctx, Record{
		UserID:         art.OwnerID,
		FileName:       art.FileName,
		UploadedFile:   media,
		TranscriptFile: []byte(art.Transcript),
	})
	if err != nil {
		return Saved{}, engine.NewError(engine.KindInternal, stageStore, "commit record", err)
	}
	engine.IncrRecordsCommitted()

	a.logger.Info("record committed",
		slog.Int64("record_id", rec.ID),
		slog.Int64("owner_id", art.OwnerID),
		slog.String("file_name", art.FileName),
		slog.Int("media_bytes", len(media)),
		slog.Int("transcript_bytes", len(art.Transcript)),
	)
	return Saved{RecordID: rec.ID, TranscriptPath: outPath, CreatedAt: rec.CreatedAt}, nil
}

// Open returns the bytes of a transcript previously written by Persist.
// Any name that is not a plain base name of an existing file is not found.
func (a *Artifacts) Open(ctx context.Context, name string) ([]byte, error) {
	if !validName(name) {
		return nil, notFound(name)
	}

	key := engine.CacheKey("transcript", name)
	if data, ok := a.cache.Get(ctx, key); ok {
		engine.IncrTranscriptsServed()
		return data, nil
	}

	p := filepath.Join(a.outputDir, name)
	if !engine.FileExists(p) {
		return nil, notFound(name)
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, engine.NewError(engine.KindInternal, stageStore, "read transcript", err)
	}

	a.cache.Set(ctx, key, data)
	engine.IncrTranscriptsServed()
	return data, nil
}

// History lists committed records for one owner, newest first.
func (a *Artifacts) History(ctx context.Context, ownerID int64, limit int) ([]Summary, error) {
	out, err := a.repo.ListTranscriptions(ctx, ownerID, limit)
	if err != nil {
		return nil, engine.NewError(engine.KindInternal, stageStore, "list records", err)
	}
	return out, nil
}

// Record loads one committed record.
func (a *Artifacts) Record(ctx context.Context, id int64) (Record, error) {
	rec, err := a.repo.GetTranscription(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Record{}, engine.NewError(engine.KindNotFound, stageStore, "Record not found", err)
	}
	if err != nil {
		return Record{}, engine.NewError(engine.KindInternal, stageStore, "get record", err)
	}
	return rec, nil
}

func notFound(name string) error {
	return engine.NewError(engine.KindNotFound, stageStore, "File not found", fmt.Errorf("transcript %q", name))
}

// validName accepts plain base names only. Dot files are the atomic
// writer's temporaries and are never served.
func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}
	return filepath.Base(name) == name
}
