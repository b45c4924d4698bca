package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soycharroup/memoryreel/internal/ai"
	"github.com/soycharroup/memoryreel/internal/content"
	"github.com/soycharroup/memoryreel/internal/event"
	"github.com/soycharroup/memoryreel/internal/facedetect"
	"github.com/soycharroup/memoryreel/internal/metadata"
	"github.com/soycharroup/memoryreel/internal/metrics"
	"github.com/soycharroup/memoryreel/internal/storage"
	"github.com/soycharroup/memoryreel/internal/validation"
	"github.com/soycharroup/memoryreel/pkg/logger"
	"github.com/soycharroup/memoryreel/pkg/worker"
)

var log = logger.Get("ProcServ")

var (
	ErrItemNotFound   = errors.New("no content item could be found")
	ErrItemTerminal   = errors.New("content item has already reached a terminal stage")
	ErrMemoryPressure = errors.New("processing is under memory pressure; submission rejected")
)

type (
	validator interface {
		Validate(ctx context.Context, data []byte, filename string, declaredMimeType string) error
	}

	extractor interface {
		Extract(ctx context.Context, data []byte, filename string) (*content.Metadata, error)
	}

	transcoder interface {
		Transcode(ctx context.Context, data []byte, keyPrefix string) (*content.RenditionSet, error)
	}

	analyzer interface {
		Analyze(ctx context.Context, data []byte, kind ai.AnalysisKind) (*ai.AnalysisResult, error)
	}

	pressureMonitor interface {
		UnderPressure() bool
	}

	// dataStore persists content records. GetContentWithChecksum returns
	// (nil, nil) when no record matches.
	dataStore interface {
		SaveContent(item *content.Item) error
		GetContent(id uuid.UUID) (*content.Item, error)
		GetContentWithChecksum(checksum string) (*content.Item, error)
	}

	Config struct {
		Parallelism    int           `yaml:"parallelism" env:"PROCESSOR_PARALLELISM" env-default:"4"`
		ResyncInterval time.Duration `yaml:"resync_interval" env:"PROCESSOR_RESYNC_INTERVAL" env-default:"30s"`
		Retry          RetryPolicy   `yaml:"retry"`
	}

	// SubmitRequest is one freshly uploaded media payload.
	SubmitRequest struct {
		LibraryID        uuid.UUID
		Filename         string
		DeclaredMimeType string
		Data             []byte
	}

	// service owns the content processing state machine. It is the only
	// component which mutates persisted item status: every collaborator
	// reports back here and this service decides the next transition.
	service struct {
		*sync.Mutex

		validator   validator
		extractor   extractor
		transcoder  transcoder
		analyzer    analyzer
		pressure    pressureMonitor
		data        dataStore
		objectStore storage.Store
		faceQueue   facedetect.Queue
		eventBus    event.EventCoordinator

		config      Config
		items       []*ProcessItem
		retryTimers map[uuid.UUID]*time.Timer
		workerPool  *worker.WorkerPool

		runCtx context.Context
	}
)

// New constructs the orchestrator service and populates its worker pool.
// Run must be called before submissions will be processed.
func New(
	config Config,
	validator validator,
	extractor extractor,
	transcoder transcoder,
	analyzer analyzer,
	pressure pressureMonitor,
	data dataStore,
	objectStore storage.Store,
	faceQueue facedetect.Queue,
	eventBus event.EventCoordinator,
) *service {
	if config.Parallelism <= 0 {
		config.Parallelism = 4
	}
	if config.ResyncInterval <= 0 {
		config.ResyncInterval = time.Second * 30
	}

	service := &service{
		Mutex:       &sync.Mutex{},
		validator:   validator,
		extractor:   extractor,
		transcoder:  transcoder,
		analyzer:    analyzer,
		pressure:    pressure,
		data:        data,
		objectStore: objectStore,
		faceQueue:   faceQueue,
		eventBus:    eventBus,
		config:      config,
		items:       make([]*ProcessItem, 0),
		retryTimers: make(map[uuid.UUID]*time.Timer),
		workerPool:  worker.NewWorkerPool(),
	}

	for i := 0; i < config.Parallelism; i++ {
		label := fmt.Sprintf("process-worker-%d", i)
		service.workerPool.PushWorker(worker.New(label, worker.TaskFunc(service.performItemProcess)))
	}

	return service
}

// Run starts the worker pool and blocks, merging face-detection
// completions back on to their items, until the context is cancelled.
// A periodic resync re-wakes the pool whenever idle items are waiting,
// covering any wakeup signal dropped while a worker transitioned to
// sleep.
func (service *service) Run(ctx context.Context) error {
	service.runCtx = ctx
	if err := service.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start processing workers: %w", err)
	}

	defer service.clearAllRetryTimers()
	defer service.workerPool.Close()

	resync := time.NewTicker(service.config.ResyncInterval)
	defer resync.Stop()

	completions := service.faceQueue.Completions()
	for {
		select {
		case result := <-completions:
			service.handleFaceCompletion(result)
		case <-resync.C:
			if service.hasIdleItems() {
				service.workerPool.WakeupWorkers()
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Submit accepts a new media payload into the pipeline. The original
// bytes are written to object storage under a content-addressed key, the
// record is persisted in the queued stage, and a worker is woken to pick
// it up. Duplicate payloads (by checksum) short-circuit to the existing
// record without reprocessing. Submissions are shed while the memory
// monitor reports pressure.
func (service *service) Submit(ctx context.Context, request SubmitRequest) (*content.Item, error) {
	if service.pressure != nil && service.pressure.UnderPressure() {
		log.Warnf("Rejecting submission of '%s': %v\n", request.Filename, ErrMemoryPressure)
		return nil, ErrMemoryPressure
	}

	mediaType, ok := validation.MediaTypeFor(request.DeclaredMimeType)
	if !ok {
		return nil, &validation.ValidationError{
			Kind:    validation.FailureMimeType,
			Message: fmt.Sprintf("declared type '%s' is not an allowed media type", request.DeclaredMimeType),
		}
	}

	checksum := metadata.Checksum(request.Data)
	if existing, err := service.data.GetContentWithChecksum(checksum); err != nil {
		return nil, fmt.Errorf("duplicate lookup failed: %w", err)
	} else if existing != nil {
		log.Infof("Submission of '%s' matches existing content %s; skipping reprocess\n", request.Filename, existing.ID)
		return existing, nil
	}

	storageKey := fmt.Sprintf("originals/%s", checksum)
	if err := service.objectStore.Put(ctx, storageKey, request.Data); err != nil {
		return nil, fmt.Errorf("failed to store original payload: %w", err)
	}

	item := content.New(request.LibraryID, request.DeclaredMimeType, mediaType, storageKey)
	if err := service.data.SaveContent(item); err != nil {
		return nil, fmt.Errorf("failed to persist content record: %w", err)
	}

	service.Lock()
	service.items = append(service.items, &ProcessItem{
		Item:     item,
		Filename: request.Filename,
		Data:     request.Data,
		State:    Idle,
	})
	service.Unlock()

	log.Emit(logger.NEW, "Accepted submission '%s' as content %s\n", request.Filename, item.ID)
	service.eventBus.Dispatch(event.ContentUpdateEvent, item.ID)
	service.workerPool.WakeupWorkers()

	return item, nil
}

// CancelItem aborts processing of the item with the given ID. A worked-on
// item has its attempt context cancelled (the worker then fails it with
// the cancelled kind); a waiting item is failed in place. Items already
// in a terminal stage cannot be cancelled.
func (service *service) CancelItem(id uuid.UUID) error {
	service.Lock()

	item := service.getItemLocked(id)
	if item == nil {
		service.Unlock()

		// Terminal items are evicted from the in-memory set; consult the
		// persisted record so a finished item still reports as terminal
		// rather than unknown.
		if record, err := service.data.GetContent(id); err == nil && record != nil && record.Status.Stage.Terminal() {
			return ErrItemTerminal
		}
		return ErrItemNotFound
	}

	switch item.State {
	case Done:
		service.Unlock()
		return ErrItemTerminal
	case Working:
		cancel := item.cancel
		service.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	default:
		service.clearRetryTimerLocked(id)
		stage := item.Status.Stage
		item.State = Done
		item.Status.Stage = content.StageFailed
		item.Status.LastError = &content.ProcessingError{
			Kind:    string(KindCancelled),
			Stage:   stage,
			Message: "processing cancelled before completion",
		}
		now := time.Now()
		item.Status.CompletedAt = &now
		service.Unlock()

		metrics.PipelineItemsTotal.WithLabelValues(string(content.StageFailed)).Inc()
		service.persist(item)
		service.eventBus.Dispatch(event.ContentFailedEvent, item.ID)
		service.releaseItem(item.ID)
		log.Emit(logger.REMOVE, "Cancelled queued item %s\n", item)
		return nil
	}
}

// GetItem returns the item with the provided ID, or nil. Terminal items
// are no longer held in memory; they are served from the data store.
func (service *service) GetItem(id uuid.UUID) *ProcessItem {
	service.Lock()
	item := service.getItemLocked(id)
	service.Unlock()

	if item != nil {
		return item
	}

	record, err := service.data.GetContent(id)
	if err != nil || record == nil {
		return nil
	}

	return &ProcessItem{Item: record, State: Done}
}

func (service *service) GetAllItems() []*ProcessItem {
	service.Lock()
	defer service.Unlock()

	items := make([]*ProcessItem, len(service.items))
	copy(items, service.items)
	return items
}

// performItemProcess is the worker task. It claims the first idle item
// and runs it through the pipeline, recording the outcome on the item
// before releasing it.
func (service *service) performItemProcess(_ worker.Worker) (bool, error) {
	item := service.claimIdleItem()
	if item == nil {
		return false, nil
	}

	parent := service.runCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	service.Lock()
	item.cancel = cancel
	service.Unlock()

	if err := service.runPipeline(ctx, item); err != nil {
		service.handleFailure(item, err)
		return true, nil
	}

	service.finalizeItem(ctx, item)
	return true, nil
}

// runPipeline performs one processing attempt. Fresh items are validated
// first; retried items re-enter at the concurrent join with their
// original validation still standing.
func (service *service) runPipeline(ctx context.Context, item *ProcessItem) error {
	if item.Status.Stage == content.StageQueued {
		if err := service.validator.Validate(ctx, item.Data, item.Filename, item.DeclaredMimeType); err != nil {
			return err
		}

		service.Lock()
		item.Status.Stage = content.StageUploaded
		item.Status.CompleteStage(content.StageUploaded)
		item.Status.SetProgress(20)
		service.Unlock()

		service.persist(item)
		service.eventBus.Dispatch(event.ContentProgressEvent, item.ID)
	}

	service.Lock()
	if item.Status.StartedAt == nil {
		now := time.Now()
		item.Status.StartedAt = &now
	}
	item.Status.Stage = content.StageAnalyzing
	service.Unlock()
	service.eventBus.Dispatch(event.ContentUpdateEvent, item.ID)

	start := time.Now()
	err := item.process(ctx, service.extractor, service.transcoder, service.analyzer, func(delta int) {
		service.bumpProgress(item, delta)
	})
	metrics.PipelineStageDuration.WithLabelValues(string(content.StageAnalyzing)).Observe(time.Since(start).Seconds())

	return err
}

// handleFailure applies the retry decision for a failed attempt.
// Recoverable kinds with budget remaining move the item to the retrying
// stage and schedule its re-dispatch; everything else fails the item
// while retaining whatever partial outputs were produced.
func (service *service) handleFailure(item *ProcessItem, err error) {
	kind := Classify(err)

	service.Lock()
	failedStage := item.Status.Stage
	processingErr := newProcessingError(kind, failedStage, err)
	item.Status.LastError = processingErr

	if kind.Recoverable() && !service.config.Retry.Exhausted(item.Status.RetryCount) {
		item.Status.RetryCount++
		item.Status.Stage = content.StageRetrying
		item.State = RetryHold

		delay := service.config.Retry.Delay(item.Status.RetryCount)
		service.scheduleRetryTimerLocked(item.ID, delay)
		service.Unlock()

		metrics.PipelineRetriesTotal.Inc()
		service.persist(item)
		service.eventBus.Dispatch(event.ContentUpdateEvent, item.ID)
		log.Warnf("Attempt %d for item %s failed (%s): %v; retrying in %s\n", item.Status.RetryCount, item.ID, kind, err, delay)
		return
	}

	item.Status.Stage = content.StageFailed
	item.State = Done
	now := time.Now()
	item.Status.CompletedAt = &now
	service.Unlock()

	metrics.PipelineItemsTotal.WithLabelValues(string(content.StageFailed)).Inc()
	service.persist(item)
	service.eventBus.Dispatch(event.ContentFailedEvent, item.ID)
	service.releaseItem(item.ID)
	log.Errorf("Item %s failed permanently at stage %s (%s): %v\n", item.ID, failedStage, kind, err)
}

// finalizeItem commits a fully successful attempt: the item becomes
// immutable (aside from face verification data merged in later) and a
// face-detection batch job is submitted for asynchronous enrichment.
func (service *service) finalizeItem(ctx context.Context, item *ProcessItem) {
	service.Lock()
	item.Status.Stage = content.StageComplete
	item.Status.CompleteStage(content.StageAnalyzing)
	item.Status.CompleteStage(content.StageProcessing)
	item.Status.CompleteStage(content.StageComplete)
	item.Status.IsProcessed = true
	item.Status.SetProgress(100)
	now := time.Now()
	item.Status.CompletedAt = &now
	item.State = Done
	service.Unlock()

	metrics.PipelineItemsTotal.WithLabelValues(string(content.StageComplete)).Inc()
	service.persist(item)
	service.eventBus.Dispatch(event.ContentCompleteEvent, item.ID)
	log.Emit(logger.SUCCESS, "Item %s completed processing via provider '%s'\n", item.ID, item.Status.ActiveProvider)

	// The face job carries its own reference to the payload; the item's
	// copy is released now so a completed record no longer pins its full
	// payload in memory while it awaits the face merge.
	job := facedetect.Job{ContentID: item.ID, LibraryID: item.LibraryID, Data: item.Data}
	if err := service.faceQueue.SubmitBatch(ctx, job); err != nil {
		log.Warnf("Failed to submit face detection job for item %s: %v\n", item.ID, err)
		service.releaseItem(item.ID)
		return
	}

	service.Lock()
	item.Data = nil
	service.Unlock()
}

// handleFaceCompletion merges an asynchronous face-detection result on to
// its (already complete) item, persists the enriched record and evicts
// the item from the in-memory set; the face merge is the last thing that
// happens to a completed item.
func (service *service) handleFaceCompletion(result facedetect.Result) {
	if result.Err != nil {
		log.Warnf("Face detection for content %s failed: %v\n", result.ContentID, result.Err)
		service.releaseItem(result.ContentID)
		return
	}

	service.Lock()
	item := service.getItemLocked(result.ContentID)
	if item == nil || item.Analysis == nil {
		service.Unlock()
		log.Warnf("Dropping face detection result for unknown content %s\n", result.ContentID)
		return
	}

	item.Analysis.Faces = result.Faces
	item.Analysis.UpdatedAt = time.Now()
	service.Unlock()

	service.persist(item)
	service.eventBus.Dispatch(event.FaceDetectionCompleteEvent, result.ContentID)
	service.releaseItem(result.ContentID)
	log.Debugf("Merged %d face(s) from provider '%s' on to content %s\n", len(result.Faces), result.Provider, result.ContentID)
}

// claimIdleItem finds the first idle item and marks it as being worked on
// so no other worker claims it once the lock is released.
func (service *service) claimIdleItem() *ProcessItem {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.State == Idle {
			item.State = Working
			return item
		}
	}

	return nil
}

// bumpProgress advances the item's progress by delta and announces the
// change. Progress never decreases; concurrent bumps serialise on the
// service lock.
func (service *service) bumpProgress(item *ProcessItem, delta int) {
	service.Lock()
	item.Status.SetProgress(item.Status.Progress + delta)
	service.Unlock()

	service.eventBus.Dispatch(event.ContentProgressEvent, item.ID)
}

// evaluateRetryHold returns a held item to the idle state once its
// backoff delay has elapsed, and wakes a worker to claim it.
func (service *service) evaluateRetryHold(id uuid.UUID) {
	service.Lock()

	item := service.getItemLocked(id)
	if item == nil || item.State != RetryHold {
		service.Unlock()
		return
	}

	item.State = Idle
	delete(service.retryTimers, id)
	service.Unlock()

	service.workerPool.WakeupWorkers()
}

func (service *service) scheduleRetryTimerLocked(id uuid.UUID, delay time.Duration) {
	service.clearRetryTimerLocked(id)
	service.retryTimers[id] = time.AfterFunc(delay, func() {
		service.evaluateRetryHold(id)
	})
}

func (service *service) clearRetryTimerLocked(id uuid.UUID) {
	if timer, ok := service.retryTimers[id]; ok {
		timer.Stop()
		delete(service.retryTimers, id)
	}
}

func (service *service) clearAllRetryTimers() {
	service.Lock()
	defer service.Unlock()

	for id, timer := range service.retryTimers {
		timer.Stop()
		delete(service.retryTimers, id)
	}
}

// releaseItem evicts a terminal item from the in-memory set and drops
// its payload buffer. The persisted record remains the source of truth
// for finished items.
func (service *service) releaseItem(id uuid.UUID) {
	service.Lock()
	defer service.Unlock()

	for i, item := range service.items {
		if item.ID == id {
			item.Data = nil
			service.items = append(service.items[:i], service.items[i+1:]...)
			return
		}
	}
}

func (service *service) hasIdleItems() bool {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.State == Idle {
			return true
		}
	}

	return false
}

func (service *service) getItemLocked(id uuid.UUID) *ProcessItem {
	for _, item := range service.items {
		if item.ID == id {
			return item
		}
	}

	return nil
}

func (service *service) persist(item *ProcessItem) {
	if err := service.data.SaveContent(item.Item); err != nil {
		log.Errorf("Failed to persist content record %s: %v\n", item.ID, err)
	}
}
