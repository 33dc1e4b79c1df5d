// Package pipeline drives a claimed job through the ordered processing steps:
// download, transcribe, analyze, finalize. Steps are resumable: the starting
// point is inferred from what the call record already carries, so a retry
// never repeats work that was durably persisted.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/callsight/callsight-api/internal/analyze"
	"github.com/callsight/callsight-api/internal/billing"
	"github.com/callsight/callsight-api/internal/models"
	"github.com/callsight/callsight-api/internal/notification"
	"github.com/callsight/callsight-api/internal/pbx"
	"github.com/callsight/callsight-api/internal/repository"
	"github.com/callsight/callsight-api/internal/secrets"
	"github.com/callsight/callsight-api/internal/storage"
	"github.com/callsight/callsight-api/internal/transcribe"
)

const (
	// Each step gets stepMaxAttempts tries with doubling delays before its
	// failure surfaces to the job level.
	stepMaxAttempts = 3
	stepBackoffBase = 2 * time.Second
)

type Config struct {
	Calls         repository.CallRepository
	Jobs          repository.JobRepository
	Analyses      repository.AnalysisRepository
	Connections   repository.ConnectionRepository
	Tenants       repository.TenantRepository
	Secrets       *secrets.Box
	PBX           *pbx.Registry
	Store         storage.Store
	Transcriber   transcribe.Transcriber
	Analyzer      analyze.Analyzer
	Billing       billing.Incrementer
	Notifications notification.Service
}

type Orchestrator struct {
	cfg    Config
	logger zerolog.Logger
}

func NewOrchestrator(cfg Config, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// execution carries per-run state between steps. The audio buffer lets
// transcribe reuse the bytes download just fetched instead of a second
// round-trip to blob storage.
type execution struct {
	job        models.Job
	call       models.CallRecord
	conn       models.Connection
	audio      []byte
	transcript *transcribe.Transcript
	elapsed    map[string]time.Duration
}

// Run executes the pipeline for a claimed job. The error return reports why
// the run stopped; the job row has already been transitioned (fail/complete)
// by the time Run returns.
func (o *Orchestrator) Run(ctx context.Context, job models.Job) error {
	logger := o.logger.With().
		Str("job_id", job.ID).
		Str("call_record_id", job.CallRecordID).
		Int("attempt", job.Attempts).
		Logger()

	call, err := o.cfg.Calls.Get(ctx, job.CallRecordID)
	if err != nil {
		return o.failJob(ctx, logger, job, call, errors.Wrap(err, "failed to load call record"))
	}
	conn, err := o.cfg.Connections.Get(ctx, call.ConnectionID)
	if err != nil {
		return o.failJob(ctx, logger, job, call, errors.Wrap(err, "failed to load connection"))
	}

	exec := &execution{
		job:     job,
		call:    call,
		conn:    conn,
		elapsed: make(map[string]time.Duration),
	}

	type step struct {
		name string
		skip bool
		run  func(context.Context, *execution) error
	}
	steps := []step{
		{"download", call.IsDownloaded(), o.download},
		{"transcribe", call.IsTranscribed(), o.transcribeStep},
		{"analyze", call.IsAnalyzed(), o.analyzeStep},
	}

	start := time.Now()
	for _, s := range steps {
		if s.skip {
			logger.Debug().Str("step", s.name).Msg("step already complete, skipping")
			continue
		}
		if err := o.runStep(ctx, logger, exec, s.name, s.run); err != nil {
			return o.failJob(ctx, logger, job, exec.call, errors.Wrapf(err, "step %s failed", s.name))
		}
	}

	if err := o.finalize(ctx, logger, exec, time.Since(start)); err != nil {
		return o.failJob(ctx, logger, job, exec.call, errors.Wrap(err, "finalize failed"))
	}
	return nil
}

// runStep applies the step-local retry policy: transient errors back off and
// retry, permanent errors stop immediately.
func (o *Orchestrator) runStep(ctx context.Context, logger zerolog.Logger, exec *execution, name string, fn func(context.Context, *execution) error) error {
	started := time.Now()
	backoff := retry.WithMaxRetries(stepMaxAttempts-1, retry.NewExponential(stepBackoffBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		stepErr := fn(ctx, exec)
		if stepErr == nil {
			return nil
		}
		if isPermanent(stepErr) {
			return stepErr
		}
		logger.Warn().Err(stepErr).Str("step", name).Msg("step attempt failed, will retry")
		return retry.RetryableError(stepErr)
	})

	exec.elapsed[name] = time.Since(started)
	if err != nil {
		return err
	}
	logger.Info().Str("step", name).Dur("elapsed", exec.elapsed[name]).Msg("step completed")
	return nil
}

func (o *Orchestrator) download(ctx context.Context, exec *execution) error {
	call := &exec.call
	if !call.HasRecording() {
		return fmt.Errorf("call %s has no recording filename: %w", call.ID, pbx.ErrRecordingNotFound)
	}

	secret, err := o.cfg.Secrets.Open(exec.conn.SecretCiphertext)
	if err != nil {
		return errors.Wrap(err, "failed to decrypt pbx credentials")
	}

	client, err := o.cfg.PBX.For(exec.conn.ProviderType)
	if err != nil {
		return err
	}

	sess, err := client.Authenticate(ctx, exec.conn, secret)
	if err != nil {
		return err
	}
	audio, err := client.Download(ctx, exec.conn, sess, *call.RecordingFilename)
	if err != nil {
		return err
	}

	key := storage.RecordingKey(call.TenantID, call.StartedAt, *call.RecordingFilename)
	if err := o.cfg.Store.Put(ctx, key, audio, storage.ContentTypeAudio); err != nil {
		return err
	}

	if err := o.cfg.Calls.SetRecording(ctx, call.ID, key, int64(len(audio))); err != nil {
		return errors.Wrap(err, "failed to persist recording path")
	}
	call.RecordingPath = &key
	size := int64(len(audio))
	call.RecordingBytes = &size
	exec.audio = audio
	return nil
}

func (o *Orchestrator) transcribeStep(ctx context.Context, exec *execution) error {
	call := &exec.call
	if err := o.cfg.Calls.SetTranscriptStatus(ctx, call.ID, models.ProcessingInProgress); err != nil {
		return err
	}

	audio := exec.audio
	if audio == nil {
		if !call.IsDownloaded() {
			return fmt.Errorf("call %s has no stored recording to transcribe", call.ID)
		}
		var err error
		audio, err = o.cfg.Store.Get(ctx, *call.RecordingPath)
		if err != nil {
			return err
		}
		exec.audio = audio
	}

	transcript, err := o.cfg.Transcriber.Transcribe(ctx, audio, transcribe.Options{Diarize: true})
	if err != nil {
		return err
	}

	data, err := json.Marshal(transcript)
	if err != nil {
		return errors.Wrap(err, "failed to encode transcript")
	}
	key := storage.TranscriptKey(*call.RecordingPath)
	if err := o.cfg.Store.Put(ctx, key, data, storage.ContentTypeTranscript); err != nil {
		return err
	}

	if err := o.cfg.Calls.SetTranscript(ctx, call.ID, key); err != nil {
		return errors.Wrap(err, "failed to persist transcript path")
	}
	call.TranscriptPath = &key
	call.TranscriptStatus = models.ProcessingCompleted
	exec.transcript = &transcript
	return nil
}

func (o *Orchestrator) analyzeStep(ctx context.Context, exec *execution) error {
	call := &exec.call
	if err := o.cfg.Calls.SetAnalysisStatus(ctx, call.ID, models.ProcessingInProgress); err != nil {
		return err
	}

	transcript := exec.transcript
	if transcript == nil {
		if call.TranscriptPath == nil {
			return fmt.Errorf("call %s has no transcript to analyze", call.ID)
		}
		data, err := o.cfg.Store.Get(ctx, *call.TranscriptPath)
		if err != nil {
			return err
		}
		var t transcribe.Transcript
		if err := json.Unmarshal(data, &t); err != nil {
			return errors.Wrap(err, "failed to decode stored transcript")
		}
		transcript = &t
		exec.transcript = transcript
	}

	tenant, err := o.cfg.Tenants.Get(ctx, call.TenantID)
	if err != nil {
		return errors.Wrap(err, "failed to load tenant")
	}

	result, err := o.cfg.Analyzer.Analyze(ctx, transcript.Text(), analyze.Metadata{
		Direction:       string(call.Direction),
		CallerNumber:    call.CallerNumber,
		CalleeNumber:    call.CalleeNumber,
		DurationSeconds: call.DurationSeconds,
	}, tenant.CustomKeywords)
	if err != nil {
		return err
	}

	if _, err := o.cfg.Analyses.Upsert(ctx, models.AnalysisResult{
		TenantID:     call.TenantID,
		CallRecordID: call.ID,
		Summary:      result.Summary,
		Sentiment:    result.Sentiment,
		Keywords:     result.Keywords,
		ActionItems:  result.ActionItems,
		Raw:          result.Raw,
	}); err != nil {
		return errors.Wrap(err, "failed to persist analysis result")
	}

	if err := o.cfg.Calls.SetAnalysisStatus(ctx, call.ID, models.ProcessingCompleted); err != nil {
		return errors.Wrap(err, "failed to mark analysis completed")
	}
	call.AnalysisStatus = models.ProcessingCompleted
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, logger zerolog.Logger, exec *execution, total time.Duration) error {
	if err := o.cfg.Jobs.Complete(ctx, exec.job.ID); err != nil {
		return err
	}

	// Billing and notification are side effects; their failure never fails
	// an already-completed job.
	if err := o.cfg.Billing.IncrementCallCount(ctx, exec.call.TenantID, billing.PeriodKey(exec.call.StartedAt)); err != nil {
		logger.Warn().Err(err).Msg("billing increment failed")
	}
	if err := o.cfg.Notifications.NotifyCallProcessed(ctx, exec.call.TenantID, exec.call.ID, exec.call.DurationSeconds); err != nil {
		logger.Warn().Err(err).Msg("failed to publish processed notification")
	}

	evt := logger.Info().Dur("total_elapsed", total)
	for name, d := range exec.elapsed {
		evt = evt.Dur("step_"+name, d)
	}
	evt.Msg("pipeline completed")
	return nil
}

// failJob surfaces a pipeline failure to the queue. Permanent errors skip the
// remaining attempt budget; everything else goes back for retry until the
// job's attempts run out.
func (o *Orchestrator) failJob(ctx context.Context, logger zerolog.Logger, job models.Job, call models.CallRecord, cause error) error {
	logger.Error().Err(cause).Msg("pipeline failed")

	if isJobPermanent(cause) {
		if err := o.cfg.Jobs.FailPermanently(ctx, job.ID, cause.Error()); err != nil {
			logger.Error().Err(err).Msg("failed to mark job permanently failed")
		}
	} else if err := o.cfg.Jobs.Fail(ctx, job.ID, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("failed to mark job for retry")
	}

	updated, err := o.cfg.Jobs.Get(ctx, job.ID)
	if err == nil && updated.Status == models.JobStatusFailed {
		// Terminal failure: surface it on the call record so the call shows
		// "processing failed" in listings instead of pending forever. Progress
		// persisted by earlier steps stays; an operator retry resumes from it.
		o.markStageFailed(ctx, logger, call)
		if err := o.cfg.Notifications.NotifyCallProcessingFailed(ctx, job.TenantID, job.CallRecordID, cause.Error()); err != nil {
			logger.Warn().Err(err).Msg("failed to publish failure notification")
		}
	}
	return cause
}

func (o *Orchestrator) markStageFailed(ctx context.Context, logger zerolog.Logger, call models.CallRecord) {
	if call.ID == "" {
		return
	}
	if !call.IsTranscribed() && call.TranscriptStatus != models.ProcessingSkipped {
		if err := o.cfg.Calls.SetTranscriptStatus(ctx, call.ID, models.ProcessingFailed); err != nil {
			logger.Warn().Err(err).Msg("failed to mark transcript status failed")
		}
	}
	if !call.IsAnalyzed() && call.AnalysisStatus != models.ProcessingSkipped {
		if err := o.cfg.Calls.SetAnalysisStatus(ctx, call.ID, models.ProcessingFailed); err != nil {
			logger.Warn().Err(err).Msg("failed to mark analysis status failed")
		}
	}
}
