package media

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
)

// Extractor downloads platform videos through yt-dlp and transcodes the
// best available audio stream to a single codec.
type Extractor struct {
	bin     string
	codec   string
	timeout time.Duration
	runner  engine.CommandRunner
	log     *slog.Logger
}

// NewExtractor returns an Extractor running bin. runner may be nil for os/exec.
func NewExtractor(bin, codec string, timeout time.Duration, runner engine.CommandRunner, logger *slog.Logger) *Extractor {
	if bin == "" {
		bin = "yt-dlp"
	}
	if codec == "" {
		codec = "mp3"
	}
	if runner == nil {
		runner = engine.ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		bin:     bin,
		codec:   strings.TrimPrefix(codec, "."),
		timeout: timeout,
		runner:  runner,
		log:     logger.With("component", "media.Extractor"),
	}
}

// Extract writes the audio of videoURL to outPath. outPath's extension must
// match the configured codec; the tool picks the intermediate container.
func (e *Extractor) Extract(ctx context.Context, videoURL, outPath string) error {
	engine.IncrExtractions()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	args := buildExtractArgs(videoURL, outPath, e.codec)
	start := time.Now()
	res, err := e.runner.Run(ctx, e.bin, args...)
	if err != nil {
		engine.IncrExtractionErrors()
		msg := engine.LastLine(res.Stderr)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			msg = "timed out after " + e.timeout.String()
		case msg == "":
			msg = err.Error()
		}
		e.log.Warn("extraction failed",
			slog.String("url", videoURL),
			slog.Int("exit_code", res.ExitCode),
			slog.String("stderr", res.Stderr),
			slog.Any("error", err),
		)
		return engine.NewError(engine.KindExternalTool, "extract", "yt-dlp failed: "+msg, err)
	}

	e.log.Debug("extraction finished",
		slog.String("url", videoURL),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// buildExtractArgs builds yt-dlp args for best audio transcoded to codec.
// The output template keeps the final name equal to outPath.
func buildExtractArgs(videoURL, outPath, codec string) []string {
	base := strings.TrimSuffix(outPath, filepath.Ext(outPath))
	return []string{
		"--format", "bestaudio/best",
		"--extract-audio",
		"--audio-format", codec,
		"--no-playlist",
		"--no-progress",
		"--quiet",
		"--output", base + ".%(ext)s",
		"--",
		videoURL,
	}
}
