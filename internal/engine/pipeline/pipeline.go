// Package pipeline drives one transcription job from its input to a
// committed record: resolve, fetch or receive, transcribe, persist.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
	"github.com/anatolykoptev/go_transcribe/internal/engine/media"
	"github.com/anatolykoptev/go_transcribe/internal/engine/store"
	"github.com/anatolykoptev/go_transcribe/internal/engine/transcribe"
)

const (
	MessageURLDone  = "Transcription completed successfully"
	MessageFileDone = "File transcription completed successfully"
)

// Transcriber is the offloaded inference step, satisfied by *transcribe.Executor.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Result is the success payload of one job.
type Result struct {
	JobID              string `json:"job_id"`
	Message            string `json:"message"`
	Transcript         string `json:"transcript"`
	TranscriptFilename string `json:"transcript_filename"`
	RecordID           int64  `json:"record_id"`
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Resolver    *media.Resolver
	Fetcher     *media.Fetcher
	Receiver    *media.Receiver
	Transcriber Transcriber
	Artifacts   *store.Artifacts
	Registry    *Registry
}

// Service runs transcription jobs.
type Service struct {
	resolver    *media.Resolver
	fetcher     *media.Fetcher
	receiver    *media.Receiver
	transcriber Transcriber
	artifacts   *store.Artifacts
	registry    *Registry
	logger      *slog.Logger
	now         func() time.Time
}

// NewService wires a Service. A nil Registry gets a default one.
func NewService(d Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if d.Registry == nil {
		d.Registry = NewRegistry(0)
	}
	return &Service{
		resolver:    d.Resolver,
		fetcher:     d.Fetcher,
		receiver:    d.Receiver,
		transcriber: d.Transcriber,
		artifacts:   d.Artifacts,
		registry:    d.Registry,
		logger:      logger.With("component", "pipeline"),
		now:         time.Now,
	}
}

// TranscribeURL fetches rawURL, transcribes it and commits a record owned by ownerID.
func (s *Service) TranscribeURL(ctx context.Context, rawURL string, ownerID int64) (Result, error) {
	run := s.begin(ownerID, "url")

	src, err := s.resolver.Resolve(rawURL, run.job)
	if err != nil {
		return run.end(ctx, Result{}, err)
	}
	run.describe(src)
	run.log.Info("job resolved", slog.String("url", src.URL), slog.String("source", string(src.Kind)))

	if err := run.to(StatusFetching); err != nil {
		return run.end(ctx, Result{}, err)
	}
	err = engine.TrackOperation(ctx, run.log, "fetch", func(ctx context.Context) error {
		return s.fetcher.Fetch(ctx, src)
	})
	if err != nil {
		return run.end(ctx, Result{}, err)
	}

	res, err := s.finish(ctx, run, src)
	res.Message = MessageURLDone
	return run.end(ctx, res, err)
}

// TranscribeUpload stores body under filename, transcribes it and commits a
// record whose file_name is exactly the client's base name.
func (s *Service) TranscribeUpload(ctx context.Context, filename string, body io.Reader, ownerID int64) (Result, error) {
	run := s.begin(ownerID, "upload")

	if err := run.to(StatusFetching); err != nil {
		return run.end(ctx, Result{}, err)
	}
	src, err := s.receiver.Receive(ctx, run.job, filename, body)
	if err != nil {
		return run.end(ctx, Result{}, err)
	}
	run.describe(src)

	res, err := s.finish(ctx, run, src)
	res.Message = MessageFileDone
	return run.end(ctx, res, err)
}

// Transcript returns the bytes of a transcript file by name.
func (s *Service) Transcript(ctx context.Context, name string) ([]byte, error) {
	return s.artifacts.Open(ctx, name)
}

// History lists committed records of one owner, newest first.
func (s *Service) History(ctx context.Context, ownerID int64, limit int) ([]store.Summary, error) {
	return s.artifacts.History(ctx, ownerID, limit)
}

// Jobs lists active and recently finished jobs, newest first.
func (s *Service) Jobs() []JobInfo {
	return s.registry.List()
}

// ActiveJobs counts jobs still in flight.
func (s *Service) ActiveJobs() int {
	return s.registry.Active()
}

// finish runs the shared tail of both ingestion paths.
func (s *Service) finish(ctx context.Context, run *jobRun, src media.Source) (Result, error) {
	if err := run.to(StatusTranscribing); err != nil {
		return Result{}, err
	}
	var text string
	err := engine.TrackOperation(ctx, run.log, "transcribe", func(ctx context.Context) error {
		var err error
		text, err = s.transcriber.Transcribe(ctx, src.Path)
		return err
	})
	if err != nil {
		return Result{}, transcribeError(err)
	}

	if err := run.to(StatusStoring); err != nil {
		return Result{}, err
	}
	name := run.job.TranscriptName()
	saved, err := s.artifacts.Persist(ctx, store.Artifact{
		OwnerID:        run.owner,
		FileName:       src.FileName,
		MediaPath:      src.Path,
		TranscriptName: name,
		Transcript:     text,
	})
	if err != nil {
		return Result{}, err
	}
	if err := s.registry.Complete(run.job.ID, name, saved.RecordID); err != nil {
		run.log.Warn("registry complete failed", slog.Any("error", err))
	}

	return Result{
		JobID:              run.job.ID,
		Transcript:         text,
		TranscriptFilename: name,
		RecordID:           saved.RecordID,
	}, nil
}

func transcribeError(err error) error {
	switch {
	case errors.Is(err, transcribe.ErrClosed):
		return engine.NewError(engine.KindUnavailable, "transcribe", "Service is shutting down", err)
	case errors.Is(err, context.Canceled):
		return engine.NewError(engine.KindInternal, "transcribe", "transcription cancelled", err)
	default:
		return engine.NewError(engine.KindInternal, "transcribe", "transcription failed", err)
	}
}

// jobRun carries one job's identity and logger through the stages.
type jobRun struct {
	svc   *Service
	job   media.Job
	owner int64
	log   *slog.Logger
}

func (s *Service) begin(ownerID int64, origin string) *jobRun {
	job := media.NewJob(s.now())
	s.registry.Add(job.ID, ownerID, origin)
	engine.IncrJobsStarted()
	return &jobRun{
		svc:   s,
		job:   job,
		owner: ownerID,
		log: s.logger.With(
			slog.String("job_id", job.ID),
			slog.Int64("owner_id", ownerID),
			slog.String("origin", origin),
		),
	}
}

func (r *jobRun) describe(src media.Source) {
	r.svc.registry.Describe(r.job.ID, string(src.Kind), src.FileName)
}

func (r *jobRun) to(status Status) error {
	if err := r.svc.registry.Transition(r.job.ID, status); err != nil {
		return engine.NewError(engine.KindInternal, "registry", "job state error", err)
	}
	return nil
}

// end records the outcome in the registry, metrics and log.
func (r *jobRun) end(ctx context.Context, res Result, err error) (Result, error) {
	elapsed := time.Since(r.job.Started)
	if err == nil {
		engine.IncrJobsSucceeded()
		r.log.Info("job done",
			slog.String("transcript_filename", res.TranscriptFilename),
			slog.Int64("record_id", res.RecordID),
			slog.Duration("elapsed", elapsed),
		)
		return res, nil
	}

	engine.IncrJobsFailed()
	cancelled := ctx.Err() != nil
	if ferr := r.svc.registry.Fail(r.job.ID, engine.PublicMessage(err), cancelled); ferr != nil {
		r.log.Warn("registry fail failed", slog.Any("error", ferr))
	}

	kind := engine.KindOf(err)
	level := slog.LevelWarn
	if kind == engine.KindInternal && !cancelled {
		level = slog.LevelError
	}
	r.log.Log(context.Background(), level, "job failed",
		slog.String("kind", kind.String()),
		slog.Bool("cancelled", cancelled),
		slog.Duration("elapsed", elapsed),
		slog.Any("error", err),
	)
	return Result{}, err
}
