package importer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"catalog-import-service/internal/metrics"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/parser"
	"catalog-import-service/internal/repository"
	"catalog-import-service/internal/schema"
)

const (
	DefaultBatchSize  = 100   // rows per staging write
	MaxBatchSize      = 500   // payload-size ceiling per staging write
	DefaultMaxRows    = 50000 // upper bound on rows affected by a single job
	validationWorkers = 8     // rows are independent until the duplicate scan
)

// ProgressSink receives per-job progress events. The broadcast registry
// implements it; tests substitute a recorder.
type ProgressSink interface {
	Emit(jobID uuid.UUID, event models.ProgressEvent)
	JobCompleted(jobID uuid.UUID, event models.ProgressEvent)
}

// LifecyclePublisher pushes job lifecycle events to the audit stream.
// May be a no-op when the event bus is not configured.
type LifecyclePublisher interface {
	PublishJobLifecycle(ctx context.Context, job *models.ImportJob)
}

// Config tunes the orchestrator's batching and safety guards
type Config struct {
	BatchSize int
	MaxRows   int
	MaxBytes  int64
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.MaxRows <= 0 {
		c.MaxRows = DefaultMaxRows
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = parser.DefaultMaxBytes
	}
	return c
}

// jobHandle tracks the live control surface of one running job
type jobHandle struct {
	confirm     chan struct{}
	cancelled   chan struct{}
	confirmOnce sync.Once
	cancelOnce  sync.Once
}

func (h *jobHandle) isCancelled() bool {
	select {
	case <-h.cancelled:
		return true
	default:
		return false
	}
}

// Orchestrator owns the import job state machine. Each job runs in its own
// goroutine; many jobs progress concurrently and independently.
type Orchestrator struct {
	repo   repository.ImportRepositoryInterface
	sink   ProgressSink
	events LifecyclePublisher
	logger *logrus.Entry
	cfg    Config

	mu   sync.Mutex
	jobs map[uuid.UUID]*jobHandle
}

func NewOrchestrator(repo repository.ImportRepositoryInterface, sink ProgressSink, events LifecyclePublisher, logger *logrus.Logger, cfg Config) *Orchestrator {
	return &Orchestrator{
		repo:   repo,
		sink:   sink,
		events: events,
		logger: logger.WithField("component", "import-orchestrator"),
		cfg:    cfg.withDefaults(),
		jobs:   make(map[uuid.UUID]*jobHandle),
	}
}

// StartJob accepts an upload, runs parse preflight synchronously and kicks
// off validation in the background. The returned job is PENDING or already
// VALIDATING by the time the caller sees it.
func (o *Orchestrator) StartJob(ctx context.Context, tenantID, createdBy, filename string, mode models.ImportMode, sheet string, file io.Reader, declaredSize int64) (*models.ImportJob, error) {
	format, err := parser.FormatForFilename(filename)
	if err != nil {
		return nil, err
	}
	if declaredSize > o.cfg.MaxBytes {
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", o.cfg.MaxBytes)
	}
	if mode == "" {
		mode = models.ImportModeCreateOnly
	}

	// The byte handle is only valid for the duration of the request, so the
	// file is parsed before the pipeline goes asynchronous.
	parsed, err := parser.Parse(file, format, parser.Options{MaxBytes: o.cfg.MaxBytes, Sheet: sheet})
	if err != nil {
		return nil, err
	}

	job := &models.ImportJob{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Filename:  filename,
		Mode:      mode,
		Status:    models.JobStatusPending,
		CreatedBy: optionalString(createdBy),
	}
	if err := o.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}

	handle := &jobHandle{
		confirm:   make(chan struct{}),
		cancelled: make(chan struct{}),
	}
	o.mu.Lock()
	o.jobs[job.ID] = handle
	o.mu.Unlock()

	metrics.ImportJobsStarted.Inc()
	o.publishLifecycle(job)

	go o.run(job, handle, parsed)

	return job, nil
}

// Confirm moves a VALIDATED job into the commit phase. The orchestrator
// never auto-commits; this is the caller's preview confirmation.
func (o *Orchestrator) Confirm(ctx context.Context, tenantID string, jobID uuid.UUID) error {
	job, err := o.repo.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusValidated {
		return fmt.Errorf("job is %s, only VALIDATED jobs can be committed", job.Status)
	}

	o.mu.Lock()
	handle, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s is not running on this instance", jobID)
	}

	handle.confirmOnce.Do(func() { close(handle.confirm) })
	return nil
}

// Cancel requests cooperative cancellation. A batch in flight always
// completes first; already-committed catalog writes are not rolled back.
func (o *Orchestrator) Cancel(ctx context.Context, tenantID string, jobID uuid.UUID) error {
	job, err := o.repo.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job is already %s", job.Status)
	}

	o.mu.Lock()
	handle, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		// Not running here (e.g. orphaned after a restart): settle directly.
		return o.finish(context.Background(), job, models.JobStatusCancelled, models.ImportSummary{})
	}

	handle.cancelOnce.Do(func() { close(handle.cancelled) })
	return nil
}

// run drives one job through validation and, after confirmation, commit.
func (o *Orchestrator) run(job *models.ImportJob, handle *jobHandle, parsed *parser.Result) {
	ctx := context.Background()
	log := o.logger.WithFields(logrus.Fields{"jobId": job.ID, "tenantId": job.TenantID})

	defer func() {
		o.mu.Lock()
		delete(o.jobs, job.ID)
		o.mu.Unlock()
	}()

	// Header validation runs exactly once, before any row is transformed.
	// Warnings ride along on every summary so the preview can show which
	// columns were ignored.
	validation := schema.ValidateHeaders(parsed.Headers, schema.ProductHeaderSchema())
	warnings := validation.Warnings
	for _, w := range warnings {
		log.WithField("warning", w).Warn("Header warning")
	}
	if !validation.Valid {
		o.fail(ctx, job, models.ImportSummary{
			Processed: len(parsed.Rows),
			Failed:    len(parsed.Rows),
			Error:     strings.Join(validation.Errors, "; "),
			Warnings:  warnings,
		})
		return
	}

	if len(parsed.Rows) == 0 {
		o.fail(ctx, job, models.ImportSummary{Error: "file contains no data rows"})
		return
	}
	if len(parsed.Rows) > o.cfg.MaxRows {
		o.fail(ctx, job, models.ImportSummary{
			Error: fmt.Sprintf("file has %d rows, exceeding the maximum of %d per import", len(parsed.Rows), o.cfg.MaxRows),
		})
		return
	}

	// Persist every parsed row in one batch before validation begins.
	structural := make(map[int]string, len(parsed.Errors))
	for _, pe := range parsed.Errors {
		structural[pe.Row] = pe.Message
	}
	importRows := make([]models.ImportRow, 0, len(parsed.Rows))
	for _, row := range parsed.Rows {
		raw := make(models.JSON, len(row.Fields))
		for k, v := range row.Fields {
			raw[k] = v
		}
		importRows = append(importRows, models.ImportRow{
			JobID:     job.ID,
			RowNumber: row.Number,
			Raw:       raw,
			Status:    models.RowStatusPending,
		})
	}
	if err := o.repo.InsertRows(ctx, importRows); err != nil {
		o.fail(ctx, job, models.ImportSummary{Error: "failed to persist rows: " + err.Error()})
		return
	}

	if err := o.transition(ctx, job, models.JobStatusValidating, nil); err != nil {
		log.WithError(err).Error("Failed to enter VALIDATING")
		return
	}
	o.emitProgress(job, models.PhaseValidating, 0, len(parsed.Rows), models.ImportSummary{})

	outcomes, validCount := o.validateRows(ctx, job, parsed, structural)
	if handle.isCancelled() {
		summary := summarize(outcomes)
		summary.Warnings = warnings
		o.finish(ctx, job, models.JobStatusCancelled, summary)
		return
	}

	rowUpdates := make([]models.ImportRow, 0, len(outcomes))
	for _, oc := range outcomes {
		row := models.ImportRow{JobID: job.ID, RowNumber: oc.RowNumber}
		if oc.Error != "" {
			msg := oc.Error
			row.Error = &msg
			row.Status = models.RowStatusInvalid
		} else {
			normalized := make(models.JSON, len(oc.Normalized))
			for k, v := range oc.Normalized {
				normalized[k] = v
			}
			row.Normalized = &normalized
			row.Status = models.RowStatusValid
		}
		rowUpdates = append(rowUpdates, row)
	}
	if err := o.repo.UpdateRowValidation(ctx, rowUpdates); err != nil {
		o.fail(ctx, job, models.ImportSummary{Error: "failed to persist validation results: " + err.Error()})
		return
	}
	metrics.ImportRowsProcessed.Add(float64(len(outcomes)))

	if validCount == 0 {
		summary := summarize(outcomes)
		summary.Error = "no rows passed validation"
		summary.Warnings = warnings
		o.fail(ctx, job, summary)
		return
	}

	validatedSummary := summarize(outcomes)
	validatedSummary.Warnings = warnings
	if err := o.transition(ctx, job, models.JobStatusValidated, &validatedSummary); err != nil {
		log.WithError(err).Error("Failed to enter VALIDATED")
		return
	}
	o.emitProgress(job, models.PhaseValidating, len(outcomes), len(outcomes), validatedSummary)
	o.publishLifecycle(job)
	log.WithFields(logrus.Fields{"valid": validCount, "invalid": len(outcomes) - validCount}).Info("Validation finished, awaiting confirmation")

	select {
	case <-handle.confirm:
	case <-handle.cancelled:
		o.finish(ctx, job, models.JobStatusCancelled, validatedSummary)
		return
	}

	if err := o.transition(ctx, job, models.JobStatusCommitting, nil); err != nil {
		log.WithError(err).Error("Failed to enter COMMITTING")
		return
	}

	o.commit(ctx, job, handle, outcomes, warnings)
}

// validateRows runs per-row transformation concurrently, then applies the
// whole-file duplicate scan once every row has been seen.
func (o *Orchestrator) validateRows(ctx context.Context, job *models.ImportJob, parsed *parser.Result, structural map[int]string) ([]RowOutcome, int) {
	mapping := ResolveHeaderMapping(parsed.Headers)

	upidHeader := ""
	for raw, canonical := range mapping {
		if canonical == "upid" {
			upidHeader = raw
			break
		}
	}
	upids := make([]string, 0, len(parsed.Rows))
	for _, row := range parsed.Rows {
		if v := strings.TrimSpace(row.Fields[upidHeader]); v != "" {
			upids = append(upids, v)
		}
	}
	existing, err := o.repo.ExistingProductsByUPID(ctx, job.TenantID, upids)
	if err != nil {
		o.logger.WithError(err).Warn("Existing-product lookup failed, treating all rows as new")
		existing = map[string]uuid.UUID{}
	}

	outcomes := make([]RowOutcome, len(parsed.Rows))
	var wg sync.WaitGroup
	work := make(chan int)
	for w := 0; w < validationWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				row := parsed.Rows[i]
				if msg, bad := structural[row.Number]; bad {
					outcomes[i] = RowOutcome{RowNumber: row.Number, Error: msg}
					continue
				}
				outcomes[i] = TransformRow(row, mapping, job.TenantID, existing, job.Mode)
			}
		}()
	}
	for i := range parsed.Rows {
		work <- i
	}
	close(work)
	wg.Wait()

	// Synchronization point: duplicates can only be flagged once all rows
	// have been validated individually.
	FlagDuplicates(outcomes)

	valid := 0
	for i := range outcomes {
		if outcomes[i].Candidate != nil {
			valid++
		}
	}
	return outcomes, valid
}

// commit stages candidates in row order, one atomic batch per round trip,
// then promotes staging to the catalog.
func (o *Orchestrator) commit(ctx context.Context, job *models.ImportJob, handle *jobHandle, outcomes []RowOutcome, warnings []string) {
	log := o.logger.WithField("jobId", job.ID)

	candidates := make([]*models.StagingCandidate, 0, len(outcomes))
	for i := range outcomes {
		if outcomes[i].Candidate != nil {
			candidates = append(candidates, outcomes[i].Candidate)
		}
	}

	summary := summarize(outcomes)
	summary.Warnings = warnings
	total := len(candidates)
	staged := 0

	for batchIdx := 0; staged < total; batchIdx++ {
		if handle.isCancelled() {
			// Stop processing new rows; keep what earlier batches committed.
			o.finish(ctx, job, models.JobStatusCancelled, summary)
			return
		}

		end := staged + o.cfg.BatchSize
		if end > total {
			end = total
		}
		chunk := candidates[staged:end]

		batch := repository.StagingBatch{}
		for _, c := range chunk {
			batch.Products = append(batch.Products, c.Product)
			batch.Variants = append(batch.Variants, c.Variants...)
			batch.RowUpdates = append(batch.RowUpdates, repository.RowStatusUpdate{
				RowNumber: c.RowNumber,
				Status:    models.RowStatusCommitted,
			})
		}

		timer := metrics.NewBatchTimer()
		_, err := o.repo.InsertStagingBatch(ctx, job.ID, batch)
		timer.Observe()
		if err != nil {
			log.WithError(err).WithField("batch", batchIdx+1).Error("Staging batch failed")
			summary.Error = fmt.Sprintf("batch %d failed: %s", batchIdx+1, err.Error())
			summary.FailedBatch = batchIdx + 1
			o.fail(ctx, job, summary)
			return
		}

		for _, c := range chunk {
			summary.Processed++
			if c.Product.Action == models.StagingActionUpdate {
				summary.Updated++
			} else {
				summary.Created++
			}
		}
		staged = end
		o.emitProgress(job, models.PhaseCommitting, staged, total, summary)
	}

	created, updated, err := o.repo.PromoteStagingToCatalog(ctx, job.TenantID, job.ID)
	if err != nil {
		summary.Error = "failed to promote staged rows: " + err.Error()
		o.fail(ctx, job, summary)
		return
	}
	summary.Created = created
	summary.Updated = updated

	o.finish(ctx, job, models.JobStatusCompleted, summary)
	log.WithFields(logrus.Fields{"created": created, "updated": updated, "failed": summary.Failed}).Info("Import completed")
}

// transition persists a non-terminal state change
func (o *Orchestrator) transition(ctx context.Context, job *models.ImportJob, status models.JobStatus, summary *models.ImportSummary) error {
	return o.repo.UpdateJobStatus(ctx, job, status, summary)
}

// fail settles the job as FAILED and discards anything staged
func (o *Orchestrator) fail(ctx context.Context, job *models.ImportJob, summary models.ImportSummary) {
	if err := o.repo.DiscardStaging(ctx, job.ID); err != nil {
		o.logger.WithError(err).WithField("jobId", job.ID).Warn("Failed to discard staging rows")
	}
	if err := o.finish(ctx, job, models.JobStatusFailed, summary); err != nil {
		o.logger.WithError(err).WithField("jobId", job.ID).Error("Failed to persist FAILED state")
	}
}

// finish writes the terminal state and notifies subscribers exactly once
func (o *Orchestrator) finish(ctx context.Context, job *models.ImportJob, status models.JobStatus, summary models.ImportSummary) error {
	if status == models.JobStatusCancelled {
		if err := o.repo.DiscardStaging(ctx, job.ID); err != nil {
			o.logger.WithError(err).WithField("jobId", job.ID).Warn("Failed to discard staging rows")
		}
	}
	if err := o.repo.UpdateJobStatus(ctx, job, status, &summary); err != nil {
		return err
	}

	switch status {
	case models.JobStatusCompleted:
		metrics.ImportJobsCompleted.Inc()
	case models.JobStatusFailed:
		metrics.ImportJobsFailed.Inc()
	case models.JobStatusCancelled:
		metrics.ImportJobsCancelled.Inc()
	}

	if o.sink != nil {
		o.sink.JobCompleted(job.ID, models.ProgressEvent{
			Type:       "job_completed",
			JobID:      job.ID,
			Status:     status,
			Processed:  summary.Processed,
			Total:      summary.Processed,
			Created:    summary.Created,
			Updated:    summary.Updated,
			Failed:     summary.Failed,
			Percentage: 100,
			Message:    summary.Error,
		})
	}
	o.publishLifecycle(job)
	return nil
}

func (o *Orchestrator) emitProgress(job *models.ImportJob, phase models.ProgressPhase, processed, total int, summary models.ImportSummary) {
	if o.sink == nil {
		return
	}
	percentage := 0
	if total > 0 {
		percentage = processed * 100 / total
	}
	o.sink.Emit(job.ID, models.ProgressEvent{
		Type:       "progress",
		JobID:      job.ID,
		Status:     job.Status,
		Phase:      phase,
		Processed:  processed,
		Total:      total,
		Created:    summary.Created,
		Updated:    summary.Updated,
		Failed:     summary.Failed,
		Percentage: percentage,
	})
}

func (o *Orchestrator) publishLifecycle(job *models.ImportJob) {
	if o.events == nil {
		return
	}
	o.events.PublishJobLifecycle(context.Background(), job)
}

// summarize derives counts from validation outcomes; commit updates the
// created/updated split as batches land.
func summarize(outcomes []RowOutcome) models.ImportSummary {
	s := models.ImportSummary{}
	for i := range outcomes {
		if outcomes[i].Error != "" {
			s.Failed++
			s.Processed++
		}
	}
	return s
}
