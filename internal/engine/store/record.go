// Package store persists transcription records and the transcript artifacts
// they point to.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Record is one committed transcription: the media bytes and the transcript
// bytes, owned by UserID. There is no foreign key to users.
type Record struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	FileName       string    `json:"file_name"`
	UploadedFile   []byte    `json:"-"`
	TranscriptFile []byte    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary is a Record without its blobs.
type Summary struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	FileName       string    `json:"file_name"`
	UploadedSize   int64     `json:"uploaded_size"`
	TranscriptSize int64     `json:"transcript_size"`
	CreatedAt      time.Time `json:"created_at"`
}

// Repository is the durable record store. SaveTranscription commits all
// fields of one record atomically or nothing.
type Repository interface {
	SaveTranscription(ctx context.Context, rec Record) (Record, error)
	GetTranscription(ctx context.Context, id int64) (Record, error)
	ListTranscriptions(ctx context.Context, userID int64, limit int) ([]Summary, error)
	Close() error
}

// Store is a Repository that also carries its own schema migrations.
type Store interface {
	Repository
	migrator
	Ping(ctx context.Context) error
}

// DefaultListLimit caps ListTranscriptions when the caller passes no limit.
const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
