package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
)

// Receiver stores client uploads under dir/<job token>/<original name>.
type Receiver struct {
	dir      string
	maxBytes int64
	log      *slog.Logger
}

// NewReceiver returns a Receiver writing under uploadDir.
func NewReceiver(uploadDir string, maxBytes int64, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		dir:      uploadDir,
		maxBytes: maxBytes,
		log:      logger.With("component", "media.Receiver"),
	}
}

// Receive writes body verbatim to a path derived from filename and returns
// the resulting Source. The file name stays exactly the client's base name.
func (r *Receiver) Receive(ctx context.Context, job Job, filename string, body io.Reader) (Source, error) {
	name, err := SafeFileName(filename)
	if err != nil {
		return Source{}, err
	}
	if err := ctx.Err(); err != nil {
		return Source{}, engine.NewError(engine.KindInvalidInput, "upload", "upload cancelled", err)
	}

	dir, err := filepath.Abs(filepath.Join(r.dir, job.Token))
	if err != nil {
		return Source{}, engine.NewError(engine.KindInternal, "upload", "cannot resolve upload path", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Source{}, engine.NewError(engine.KindInternal, "upload", "cannot create upload directory", err)
	}
	path := filepath.Join(dir, name)

	n, err := engine.WriteFileAtomic(path, body, engine.WriteOptions{
		Limit:       r.maxBytes,
		RejectEmpty: true,
	})
	switch {
	case errors.Is(err, engine.ErrEmpty):
		return Source{}, engine.NewError(engine.KindInvalidInput, "upload", "Uploaded file is empty", nil)
	case errors.Is(err, engine.ErrTooLarge):
		return Source{}, engine.NewError(engine.KindInvalidInput, "upload",
			fmt.Sprintf("Uploaded file exceeds %d bytes", r.maxBytes), err)
	case err != nil:
		return Source{}, engine.NewError(engine.KindInternal, "upload", "cannot save uploaded file", err)
	}

	if !engine.FileExists(path) {
		return Source{}, engine.NewError(engine.KindInvalidInput, "upload", "Uploaded file not saved", nil)
	}
	engine.IncrUploads()
	r.log.Debug("upload saved", slog.String("path", path), slog.Int64("bytes", n))

	return Source{
		Kind:     KindUpload,
		Path:     path,
		FileName: name,
	}, nil
}

// SafeFileName reduces a client-supplied name to its base name, accepting
// both slash styles. Empty names and dot entries are rejected.
func SafeFileName(filename string) (string, error) {
	name := strings.TrimSpace(strings.ReplaceAll(filename, `\`, "/"))
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "", engine.NewError(engine.KindInvalidInput, "upload", "invalid file name", nil)
	}
	return name, nil
}
