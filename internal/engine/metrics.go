package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters across the service.
var metrics struct {
	JobsStarted         atomic.Int64
	JobsSucceeded       atomic.Int64
	JobsFailed          atomic.Int64
	DirectDownloads     atomic.Int64
	DownloadErrors      atomic.Int64
	Extractions         atomic.Int64
	ExtractionErrors    atomic.Int64
	Uploads             atomic.Int64
	Transcriptions      atomic.Int64
	TranscriptionErrors atomic.Int64
	TranscribeMillis    atomic.Int64
	RecordsCommitted    atomic.Int64
	TranscriptsServed   atomic.Int64
	RateLimited         atomic.Int64
}

var metricKeys = []string{
	"jobs_started", "jobs_succeeded", "jobs_failed",
	"direct_downloads", "download_errors",
	"extractions", "extraction_errors",
	"uploads",
	"transcriptions", "transcription_errors", "transcribe_millis",
	"records_committed", "transcripts_served", "rate_limited",
	"cache_hits", "cache_misses",
}

// GetMetrics returns a snapshot of all metrics including cache stats.
func GetMetrics() map[string]int64 {
	hits, misses := CacheStats()
	return map[string]int64{
		"jobs_started":         metrics.JobsStarted.Load(),
		"jobs_succeeded":       metrics.JobsSucceeded.Load(),
		"jobs_failed":          metrics.JobsFailed.Load(),
		"direct_downloads":     metrics.DirectDownloads.Load(),
		"download_errors":      metrics.DownloadErrors.Load(),
		"extractions":          metrics.Extractions.Load(),
		"extraction_errors":    metrics.ExtractionErrors.Load(),
		"uploads":              metrics.Uploads.Load(),
		"transcriptions":       metrics.Transcriptions.Load(),
		"transcription_errors": metrics.TranscriptionErrors.Load(),
		"transcribe_millis":    metrics.TranscribeMillis.Load(),
		"records_committed":    metrics.RecordsCommitted.Load(),
		"transcripts_served":   metrics.TranscriptsServed.Load(),
		"rate_limited":         metrics.RateLimited.Load(),
		"cache_hits":           hits,
		"cache_misses":         misses,
	}
}

// FormatMetrics returns metrics as a simple text format for the HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	var sb strings.Builder
	for _, k := range metricKeys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}

// LogMetrics writes the non-zero counters as one log line.
func LogMetrics(logger *slog.Logger) {
	m := GetMetrics()
	args := make([]any, 0, len(metricKeys))
	for _, k := range metricKeys {
		if m[k] != 0 {
			args = append(args, slog.Int64(k, m[k]))
		}
	}
	if len(args) == 0 {
		return
	}
	logger.Info("metrics totals", args...)
}

// Incrementors for sub-packages.
func IncrJobsStarted()         { metrics.JobsStarted.Add(1) }
func IncrJobsSucceeded()       { metrics.JobsSucceeded.Add(1) }
func IncrJobsFailed()          { metrics.JobsFailed.Add(1) }
func IncrDirectDownloads()     { metrics.DirectDownloads.Add(1) }
func IncrDownloadErrors()      { metrics.DownloadErrors.Add(1) }
func IncrExtractions()         { metrics.Extractions.Add(1) }
func IncrExtractionErrors()    { metrics.ExtractionErrors.Add(1) }
func IncrUploads()             { metrics.Uploads.Add(1) }
func IncrTranscriptionErrors() { metrics.TranscriptionErrors.Add(1) }
func IncrRecordsCommitted()    { metrics.RecordsCommitted.Add(1) }
func IncrTranscriptsServed()   { metrics.TranscriptsServed.Add(1) }
func IncrRateLimited()         { metrics.RateLimited.Add(1) }

// ObserveTranscription counts one finished inference call and its duration.
func ObserveTranscription(elapsed time.Duration) {
	metrics.Transcriptions.Add(1)
	metrics.TranscribeMillis.Add(elapsed.Milliseconds())
}

// SlowOperationThreshold is the duration after which TrackOperation warns.
var SlowOperationThreshold = 5 * time.Second

// TrackOperation logs a warning if an operation takes longer than SlowOperationThreshold.
func TrackOperation(ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if elapsed > SlowOperationThreshold {
		logger.Warn("slow operation", slog.String("op", name), slog.Duration("elapsed", elapsed))
	}
	return err
}
