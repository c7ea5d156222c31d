package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
)

// Fetcher populates a resolved Source's local path, either by a direct GET
// or by handing the URL to the extraction tool.
type Fetcher struct {
	client    *http.Client
	extractor *Extractor
	retry     engine.RetryConfig
	maxBytes  int64
	timeout   time.Duration
	log       *slog.Logger
}

// FetcherOptions configures a Fetcher. Zero values fall back to defaults.
type FetcherOptions struct {
	Client   *http.Client
	Retry    engine.RetryConfig
	MaxBytes int64
	Timeout  time.Duration // bounds the direct download, retries included
}

// NewFetcher returns a Fetcher using extractor for platform URLs.
func NewFetcher(extractor *Extractor, opts FetcherOptions, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Client == nil {
		opts.Client = engine.NewFetchClient()
	}
	if opts.Retry.MaxTries == 0 {
		opts.Retry = engine.DefaultRetryConfig
	}
	return &Fetcher{
		client:    opts.Client,
		extractor: extractor,
		retry:     opts.Retry,
		maxBytes:  opts.MaxBytes,
		timeout:   opts.Timeout,
		log:       logger.With("component", "media.Fetcher"),
	}
}

// Fetch runs the strategy for src.Kind and verifies the file exists afterwards.
func (f *Fetcher) Fetch(ctx context.Context, src Source) error {
	var err error
	switch src.Kind {
	case KindDirect:
		err = f.download(ctx, src)
	case KindPlatform:
		if f.extractor == nil {
			return engine.NewError(engine.KindInternal, "extract", "extraction tool not configured", nil)
		}
		err = f.extractor.Extract(ctx, src.URL, src.Path)
	default:
		return engine.NewError(engine.KindInternal, "fetch", fmt.Sprintf("unsupported source kind %q", src.Kind), nil)
	}
	if err != nil {
		return err
	}

	if !engine.FileExists(src.Path) {
		return engine.NewError(engine.KindInvalidInput, "fetch", "Local file not found for transcription", nil)
	}
	return nil
}

func (f *Fetcher) download(ctx context.Context, src Source) error {
	engine.IncrDirectDownloads()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	resp, err := engine.Retry(ctx, f.retry, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
		if err != nil {
			return nil, engine.Permanent(err)
		}
		req.Header.Set("User-Agent", engine.RandomUserAgent())
		req.Header.Set("Accept", "audio/*,video/*,*/*;q=0.8")

		resp, err := f.client.Do(req)
		if err != nil {
			if engine.IsRetryableError(err) {
				return nil, err
			}
			return nil, engine.Permanent(err)
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		resp.Body.Close()
		statusErr := &engine.HTTPStatusError{StatusCode: resp.StatusCode}
		if engine.IsRetryableStatus(resp.StatusCode) {
			return nil, statusErr
		}
		return nil, engine.Permanent(statusErr)
	})
	if err != nil {
		engine.IncrDownloadErrors()
		f.log.Warn("direct download failed", slog.String("url", src.URL), slog.Any("error", err))
		return engine.NewError(engine.KindInvalidInput, "download", "Failed to download file", err)
	}
	defer resp.Body.Close()

	n, err := engine.WriteFileAtomic(src.Path, resp.Body, engine.WriteOptions{
		Limit:       f.maxBytes,
		RejectEmpty: true,
	})
	switch {
	case errors.Is(err, engine.ErrEmpty):
		engine.IncrDownloadErrors()
		return engine.NewError(engine.KindInvalidInput, "download", "Downloaded file is empty", nil)
	case errors.Is(err, engine.ErrTooLarge):
		engine.IncrDownloadErrors()
		return engine.NewError(engine.KindInvalidInput, "download",
			fmt.Sprintf("Downloaded file exceeds %d bytes", f.maxBytes), err)
	case err != nil && ctx.Err() != nil:
		engine.IncrDownloadErrors()
		return engine.NewError(engine.KindInvalidInput, "download", "Failed to download file", ctx.Err())
	case err != nil:
		engine.IncrDownloadErrors()
		return engine.NewError(engine.KindInternal, "download", "cannot save downloaded file", err)
	}

	f.log.Debug("direct download saved", slog.String("path", src.Path), slog.Int64("bytes", n))
	return nil
}
