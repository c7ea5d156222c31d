package jobserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/anatolykoptev/go-mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
	"github.com/anatolykoptev/go_transcribe/internal/engine/pipeline"
	"github.com/anatolykoptev/go_transcribe/internal/engine/store"
	"github.com/anatolykoptev/go_transcribe/internal/toolutil"
)

const (
	maxJSONBody = 1 << 20
	// multipartMemory is how much of an upload is buffered in memory before
	// spilling to a temp file.
	multipartMemory = 32 << 20
	// multipartOverhead covers form boundaries and the user_id field.
	multipartOverhead = 1 << 20
)

// Pipeline is the job runner behind the HTTP and MCP surfaces.
type Pipeline interface {
	TranscribeURL(ctx context.Context, rawURL string, ownerID int64) (pipeline.Result, error)
	TranscribeUpload(ctx context.Context, filename string, body io.Reader, ownerID int64) (pipeline.Result, error)
	Transcript(ctx context.Context, name string) ([]byte, error)
	History(ctx context.Context, ownerID int64, limit int) ([]store.Summary, error)
	Jobs() []pipeline.JobInfo
}

// Options configures the HTTP surface.
type Options struct {
	Name           string
	Version        string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxUploadBytes int64
	// Ready backs /health/ready; nil means always ready.
	Ready func(ctx context.Context) error
}

// URLRequest is the body of POST /transcribe/transcribe-url.
type URLRequest struct {
	FileURL string `json:"file_url"`
	UserID  int64  `json:"user_id"`
}

// readyTimeout bounds one /health/ready check.
const readyTimeout = 2 * time.Second

// NewHandler returns the full HTTP surface: REST routes, metrics, health and
// the MCP endpoint at /mcp. Submissions over REST and MCP share one limiter.
func NewHandler(p Pipeline, opts Options, logger *slog.Logger) (http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	h := &handlers{p: p, opts: opts, logger: logger}

	limiter := newLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	submit := rateLimit(limiter)

	server := mcp.NewServer(&mcp.Implementation{Name: opts.Name, Version: opts.Version}, nil)
	RegisterTools(server, p)

	return mcpserver.Build(server, mcpserver.Config{
		Name:        opts.Name,
		Version:     opts.Version,
		Metrics:     engine.FormatMetrics,
		CORSOrigins: opts.CORSOrigins,
		Routes: func(mux *http.ServeMux) {
			mux.HandleFunc("GET /{$}", h.welcome)
			mux.Handle("POST /transcribe/transcribe-url", submit(http.HandlerFunc(h.transcribeURL)))
			mux.Handle("POST /transcribe/transcribe-file", submit(http.HandlerFunc(h.transcribeFile)))
			mux.HandleFunc("GET /transcribe/download/{filename}", h.download)
			mux.HandleFunc("GET /transcribe/history/{user_id}", h.history)
			mux.HandleFunc("GET /transcribe/jobs", h.jobs)
		},
		ReadinessCheck:         h.ready,
		DisableRecovery:        true,
		Middleware:             []mcpserver.Middleware{recoverer(logger)},
		MCPReceivingMiddleware: []mcp.Middleware{limitTools(limiter, "transcribe_url")},
		Logger:                 logger,
	})
}

type handlers struct {
	p      Pipeline
	opts   Options
	logger *slog.Logger
}

func (h *handlers) welcome(w http.ResponseWriter, _ *http.Request) {
	toolutil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Welcome to Whisper API"})
}

func (h *handlers) ready() error {
	if h.opts.Ready == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()
	return h.opts.Ready(ctx)
}

func (h *handlers) transcribeURL(w http.ResponseWriter, r *http.Request) {
	var req URLRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(&req); err != nil {
		toolutil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.p.TranscribeURL(r.Context(), req.FileURL, req.UserID)
	if err != nil {
		toolutil.WriteErr(w, err)
		return
	}
	toolutil.WriteJSON(w, http.StatusOK, res)
}

func (h *handlers) transcribeFile(w http.ResponseWriter, r *http.Request) {
	if h.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			toolutil.WriteError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Uploaded file exceeds %d bytes", h.opts.MaxUploadBytes))
			return
		}
		toolutil.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	owner, err := toolutil.ParseOwnerID(r.FormValue("user_id"))
	if err != nil {
		toolutil.WriteErr(w, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		toolutil.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	res, err := h.p.TranscribeUpload(r.Context(), header.Filename, file, owner)
	if err != nil {
		toolutil.WriteErr(w, err)
		return
	}
	toolutil.WriteJSON(w, http.StatusOK, res)
}

func (h *handlers) download(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	data, err := h.p.Transcript(r.Context(), name)
	if err != nil {
		toolutil.WriteErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	owner, err := toolutil.ParseOwnerID(r.PathValue("user_id"))
	if err != nil {
		toolutil.WriteErr(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			toolutil.WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}
	items, err := h.p.History(r.Context(), owner, limit)
	if err != nil {
		toolutil.WriteErr(w, err)
		return
	}
	toolutil.WriteJSON(w, http.StatusOK, map[string]any{"user_id": owner, "items": items})
}

func (h *handlers) jobs(w http.ResponseWriter, _ *http.Request) {
	toolutil.WriteJSON(w, http.StatusOK, map[string]any{"jobs": h.p.Jobs()})
}
