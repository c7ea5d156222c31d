// Package media turns a job's input (remote URL or uploaded bytes) into a
// local audio file ready for transcription.
package media

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout formats job timestamps at one-second resolution.
const TimestampLayout = "2006-01-02_15-04-05"

// Job identifies one transcription request. Stamp and Token together name
// every file the job creates, so two jobs started within the same second
// still get distinct paths.
type Job struct {
	ID      string
	Token   string
	Stamp   string
	Started time.Time
}

// NewJob assigns a fresh random ID and derives the naming stamp from now.
func NewJob(now time.Time) Job {
	id := uuid.NewString()
	return Job{
		ID:      id,
		Token:   strings.ReplaceAll(id, "-", "")[:8],
		Stamp:   now.Format(TimestampLayout),
		Started: now,
	}
}

// DownloadName is the local media filename for URL ingestion. ext includes the dot.
func (j Job) DownloadName(ext string) string {
	return fmt.Sprintf("download_%s_%s%s", j.Stamp, j.Token, ext)
}

// TranscriptName is the output filename of the job's transcript.
func (j Job) TranscriptName() string {
	return fmt.Sprintf("transcription_%s_%s.txt", j.Stamp, j.Token)
}
