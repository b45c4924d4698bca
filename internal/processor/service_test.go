package processor_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/soycharroup/memoryreel/internal/ai"
	"github.com/soycharroup/memoryreel/internal/content"
	"github.com/soycharroup/memoryreel/internal/event"
	"github.com/soycharroup/memoryreel/internal/facedetect"
	"github.com/soycharroup/memoryreel/internal/metadata"
	"github.com/soycharroup/memoryreel/internal/processor"
	"github.com/soycharroup/memoryreel/internal/rendition"
	"github.com/soycharroup/memoryreel/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedValidator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (v *scriptedValidator) Validate(_ context.Context, _ []byte, _ string, _ string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.err
}

func (v *scriptedValidator) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// scriptedExtractor returns the scripted errors in order, then succeeds.
type scriptedExtractor struct {
	mu     sync.Mutex
	calls  int
	errs   []error
	gate   chan struct{}
	result *content.Metadata
}

func (e *scriptedExtractor) Extract(ctx context.Context, data []byte, filename string) (*content.Metadata, error) {
	e.mu.Lock()
	call := e.calls
	e.calls++
	e.mu.Unlock()

	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if call < len(e.errs) && e.errs[call] != nil {
		return nil, e.errs[call]
	}

	if e.result != nil {
		return e.result, nil
	}

	return &content.Metadata{
		Filename:  filename,
		SizeBytes: int64(len(data)),
		MimeType:  "image/jpeg",
		Width:     100,
		Height:    50,
		Checksum:  metadata.Checksum(data),
	}, nil
}

func (e *scriptedExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type scriptedTranscoder struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (t *scriptedTranscoder) Transcode(_ context.Context, _ []byte, keyPrefix string) (*content.RenditionSet, error) {
	t.mu.Lock()
	call := t.calls
	t.calls++
	t.mu.Unlock()

	if call < len(t.errs) && t.errs[call] != nil {
		return nil, t.errs[call]
	}

	return &content.RenditionSet{
		Variants:   []content.Variant{{Name: "medium", StorageKey: keyPrefix + "/medium.jpg", Width: 100, Height: 50}},
		Thumbnails: []content.Thumbnail{{SizeTag: "small", StorageKey: keyPrefix + "/thumb_small.jpg", Width: 50, Height: 50}},
	}, nil
}

type scriptedAnalyzer struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (a *scriptedAnalyzer) Analyze(_ context.Context, _ []byte, _ ai.AnalysisKind) (*ai.AnalysisResult, error) {
	a.mu.Lock()
	call := a.calls
	a.calls++
	a.mu.Unlock()

	if call < len(a.errs) && a.errs[call] != nil {
		return nil, a.errs[call]
	}

	return &ai.AnalysisResult{
		Analysis: ai.Analysis{
			Tags:       []content.Tag{{Name: "beach", Confidence: 0.95, Provider: "primary"}},
			Scene:      content.Scene{Description: "a sunny beach"},
			Confidence: 0.95,
		},
		Provider: "primary",
	}, nil
}

type staticPressure struct{ pressured bool }

func (p *staticPressure) UnderPressure() bool { return p.pressured }

type memoryDataStore struct {
	mu    sync.Mutex
	saved map[uuid.UUID]*content.Item
}

func newMemoryDataStore() *memoryDataStore {
	return &memoryDataStore{saved: make(map[uuid.UUID]*content.Item)}
}

func (store *memoryDataStore) SaveContent(item *content.Item) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	copied := *item
	store.saved[item.ID] = &copied
	return nil
}

func (store *memoryDataStore) GetContent(id uuid.UUID) (*content.Item, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if item, ok := store.saved[id]; ok {
		return item, nil
	}

	return nil, errors.New("no content record")
}

func (store *memoryDataStore) GetContentWithChecksum(checksum string) (*content.Item, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, item := range store.saved {
		if item.Metadata != nil && item.Metadata.Checksum == checksum {
			return item, nil
		}
	}

	return nil, nil
}

type memoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{objects: make(map[string][]byte)}
}

func (store *memoryObjectStore) Put(_ context.Context, key string, data []byte) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.objects[key] = data
	return nil
}

func (store *memoryObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if data, ok := store.objects[key]; ok {
		return data, nil
	}
	return nil, errors.New("not found")
}

func (store *memoryObjectStore) Delete(_ context.Context, key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.objects, key)
	return nil
}

// fakeFaceQueue records submitted jobs; completions can be injected by
// the test to exercise the merge path.
type fakeFaceQueue struct {
	mu      sync.Mutex
	jobs    []facedetect.Job
	results chan facedetect.Result
}

func newFakeFaceQueue() *fakeFaceQueue {
	return &fakeFaceQueue{results: make(chan facedetect.Result, 8)}
}

func (q *fakeFaceQueue) SubmitBatch(_ context.Context, jobs ...facedetect.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, jobs...)
	return nil
}

func (q *fakeFaceQueue) Completions() <-chan facedetect.Result { return q.results }

func (q *fakeFaceQueue) jobCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type serviceHarness struct {
	validator  *scriptedValidator
	extractor  *scriptedExtractor
	transcoder *scriptedTranscoder
	analyzer   *scriptedAnalyzer
	pressure   *staticPressure
	data       *memoryDataStore
	objects    *memoryObjectStore
	faces      *fakeFaceQueue
	eventBus   event.EventCoordinator
	cancel     context.CancelFunc
}

func startService(t *testing.T, config processor.Config) (*serviceHarness, interface {
	Submit(ctx context.Context, request processor.SubmitRequest) (*content.Item, error)
	CancelItem(id uuid.UUID) error
	GetItem(id uuid.UUID) *processor.ProcessItem
	GetAllItems() []*processor.ProcessItem
}) {
	t.Helper()

	harness := &serviceHarness{
		validator:  &scriptedValidator{},
		extractor:  &scriptedExtractor{},
		transcoder: &scriptedTranscoder{},
		analyzer:   &scriptedAnalyzer{},
		pressure:   &staticPressure{},
		data:       newMemoryDataStore(),
		objects:    newMemoryObjectStore(),
		faces:      newFakeFaceQueue(),
		eventBus:   event.New(),
	}

	service := processor.New(
		config,
		harness.validator,
		harness.extractor,
		harness.transcoder,
		harness.analyzer,
		harness.pressure,
		harness.data,
		harness.objects,
		harness.faces,
		harness.eventBus,
	)

	ctx, cancel := context.WithCancel(context.Background())
	harness.cancel = cancel
	go service.Run(ctx) //nolint:errcheck
	t.Cleanup(cancel)

	// Give the worker pool a moment to spin up.
	time.Sleep(10 * time.Millisecond)

	return harness, service
}

func defaultTestConfig() processor.Config {
	return processor.Config{
		Parallelism: 2,
		Retry:       processor.RetryPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, Multiplier: 2.0},
	}
}

func submitRequest(data string) processor.SubmitRequest {
	return processor.SubmitRequest{
		LibraryID:        uuid.New(),
		Filename:         "photo.jpg",
		DeclaredMimeType: "image/jpeg",
		Data:             []byte(data),
	}
}

func Test_Submit_CleanItemCompletesAllStages(t *testing.T) {
	harness, service := startService(t, defaultTestConfig())

	item, err := service.Submit(context.Background(), submitRequest("clean image payload"))
	require.NoError(t, err)
	assert.Equal(t, content.StageQueued, item.Status.Stage)

	require.Eventually(t, func() bool {
		return service.GetItem(item.ID).Status.Stage == content.StageComplete
	}, 2*time.Second, 10*time.Millisecond)

	processed := service.GetItem(item.ID)
	assert.True(t, processed.Status.IsProcessed)
	assert.Equal(t, 100, processed.Status.Progress)
	assert.Empty(t, processed.Status.RemainingStages)
	assert.Equal(t, "primary", processed.Status.ActiveProvider)
	require.NotNil(t, processed.Metadata)
	assert.Equal(t, metadata.Checksum([]byte("clean image payload")), processed.Metadata.Checksum)
	require.NotNil(t, processed.Renditions)
	require.NotNil(t, processed.Analysis)
	assert.NotNil(t, processed.Status.CompletedAt)

	// The original payload was written under its content-addressed key.
	stored, err := harness.objects.Get(context.Background(), processed.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("clean image payload"), stored)

	// Completion submits exactly one face-detection batch job.
	assert.Eventually(t, func() bool { return harness.faces.jobCount() == 1 }, time.Second, 10*time.Millisecond)
}

func Test_Submit_ValidationFailureIsFinal(t *testing.T) {
	harness, service := startService(t, defaultTestConfig())
	harness.validator.err = &validation.ValidationError{Kind: validation.FailureSize, Message: "payload below minimum size"}

	item, err := service.Submit(context.Background(), submitRequest("tiny"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return service.GetItem(item.ID).Status.Stage == content.StageFailed
	}, 2*time.Second, 10*time.Millisecond)

	failed := service.GetItem(item.ID)
	require.NotNil(t, failed.Status.LastError)
	assert.Equal(t, string(processor.KindValidation), failed.Status.LastError.Kind)

	// Bad input never consumes retry budget and never reaches the join.
	assert.Equal(t, 0, failed.Status.RetryCount)
	assert.Equal(t, 1, harness.validator.callCount())
	assert.Equal(t, 0, harness.extractor.callCount())
}

func Test_Submit_SecurityFailureNeverRetried(t *testing.T) {
	harness, service := startService(t, defaultTestConfig())
	harness.validator.err = &validation.ValidationError{Kind: validation.FailureSecurity, Message: "malware signature matched"}

	item, err := service.Submit(context.Background(), submitRequest("infected payload bytes"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return service.GetItem(item.ID).Status.Stage == content.StageFailed
	}, 2*time.Second, 10*time.Millisecond)

	failed := service.GetItem(item.ID)
	assert.Equal(t, string(processor.KindSecurity), failed.Status.LastError.Kind)
	assert.Equal(t, 0, failed.Status.RetryCount)
}

func Test_Submit_TransientFailureRetriedToSuccess(t *testing.T) {
	harness, service := startService(t, defaultTestConfig())
	harness.extractor.errs = []error{errors.New("probe timed out")}

	item, err := service.Submit(context.Background(), submitRequest("transient payload bytes"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return service.GetItem(item.ID).Status.Stage == content.StageComplete
	}, 2*time.Second, 10*time.Millisecond)

	completed := service.GetItem(item.ID)
	assert.Equal(t, 1, completed.Status.RetryCount)
	assert.True(t, completed.Status.IsProcessed)
	assert.GreaterOrEqual(t, harness.extractor.callCount(), 2)
}

func Test_Submit_QueueFullRetried(t *testing.T) {
	harness, service := startService(t, defaultTestConfig())
	harness.transcoder.errs = []error{rendition.ErrQueueFull}

	item, err := service.Submit(context.Background(), submitRequest("queue full payload bytes"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return service.GetItem(item.ID).Status.Stage == content.StageComplete
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, service.GetItem(item.ID).Status.RetryCount)
}

func Test_Submit_ExhaustedBudgetFailsWithLastError(t *testing.T) {
	harness, service := startService(t, defaultTestConfig())
	providerErr := &ai.ExhaustedError{Operation: "analyze", Attempted: []string{"primary", "secondary", "tertiary"}, LastErr: errors.New("service unavailable")}
	harness.analyzer.errs = []error{providerErr, providerErr, providerErr}

	item, err := service.Submit(context.Background(), submitRequest("doomed payload bytes"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return service.GetItem(item.ID).Status.Stage == content.StageFailed
	}, 2*time.Second, 10*time.Millisecond)

	failed := service.GetItem(item.ID)
	assert.Equal(t, 2, failed.Status.RetryCount)
	require.NotNil(t, failed.Status.LastError)
	assert.Equal(t, string(processor.KindProvider), failed.Status.LastError.Kind)

	// The persisted message is a summary, never the raw provider error.
	assert.NotContains(t, failed.Status.LastError.Message, "service unavailable")
}

func Test_Submit_DuplicateChecksumSkipsReprocessing(t *testing.T) {
	harness, service := startService(t, defaultTestConfig())

	first, err := service.Submit(context.Background(), submitRequest("duplicate payload bytes"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return service.GetItem(first.ID).Status.Stage == content.StageComplete
	}, 2*time.Second, 10*time.Millisecond)

	extractions := harness.extractor.callCount()

	second, err := service.Submit(context.Background(), submitRequest("duplicate payload bytes"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, extractions, harness.extractor.callCount())
}

func Test_Submit_RejectedUnderMemoryPressure(t *testing.T) {
	harness, service := startService(t, defaultTestConfig())
	harness.pressure.pressured = true

	_, err := service.Submit(context.Background(), submitRequest("pressured payload bytes"))
	assert.ErrorIs(t, err, processor.ErrMemoryPressure)
}

func Test_Submit_UnknownDeclaredTypeRejected(t *testing.T) {
	_, service := startService(t, defaultTestConfig())

	request := submitRequest("mystery payload bytes")
	request.DeclaredMimeType = "application/x-msdownload"
	_, err := service.Submit(context.Background(), request)

	var validationErr *validation.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, validation.FailureMimeType, validationErr.Kind)
}

func Test_CancelItem_InFlightFailsWithCancelledKind(t *testing.T) {
	harness, service := startService(t, defaultTestConfig())
	harness.extractor.gate = make(chan struct{})

	item, err := service.Submit(context.Background(), submitRequest("cancelled payload bytes"))
	require.NoError(t, err)

	// Wait for a worker to pick the item up and block inside extraction.
	require.Eventually(t, func() bool {
		return harness.extractor.callCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, service.CancelItem(item.ID))

	require.Eventually(t, func() bool {
		return service.GetItem(item.ID).Status.Stage == content.StageFailed
	}, 2*time.Second, 10*time.Millisecond)

	cancelled := service.GetItem(item.ID)
	require.NotNil(t, cancelled.Status.LastError)
	assert.Equal(t, string(processor.KindCancelled), cancelled.Status.LastError.Kind)
}

func Test_CancelItem_UnknownID(t *testing.T) {
	_, service := startService(t, defaultTestConfig())

	assert.ErrorIs(t, service.CancelItem(uuid.New()), processor.ErrItemNotFound)
}

func Test_CancelItem_TerminalItemRejected(t *testing.T) {
	_, service := startService(t, defaultTestConfig())

	item, err := service.Submit(context.Background(), submitRequest("terminal payload bytes"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return service.GetItem(item.ID).Status.Stage == content.StageComplete
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, service.CancelItem(item.ID), processor.ErrItemTerminal)
}

func Test_Items_ReleasedAfterFaceMerge(t *testing.T) {
	harness, service := startService(t, defaultTestConfig())

	const batch = 5
	ids := make([]uuid.UUID, 0, batch)
	for i := 0; i < batch; i++ {
		item, err := service.Submit(context.Background(), submitRequest(fmt.Sprintf("unique payload number %d", i)))
		require.NoError(t, err)
		ids = append(ids, item.ID)
	}

	require.Eventually(t, func() bool {
		return harness.faces.jobCount() == batch
	}, 2*time.Second, 10*time.Millisecond)

	for _, id := range ids {
		harness.faces.results <- facedetect.Result{ContentID: id, Provider: "primary"}
	}

	// Once the face merges land, no finished item (nor its payload) may
	// linger in the in-memory set.
	require.Eventually(t, func() bool {
		return len(service.GetAllItems()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Finished records remain reachable through the data store, without
	// their payload buffers.
	for _, id := range ids {
		record := service.GetItem(id)
		require.NotNil(t, record)
		assert.Equal(t, content.StageComplete, record.Status.Stage)
		assert.Nil(t, record.Data)
	}

	// An evicted terminal item still reports as terminal, not unknown.
	assert.ErrorIs(t, service.CancelItem(ids[0]), processor.ErrItemTerminal)
}

func Test_Items_ReleasedAfterTerminalFailure(t *testing.T) {
	harness, service := startService(t, defaultTestConfig())
	harness.validator.err = &validation.ValidationError{Kind: validation.FailureSize, Message: "payload below minimum size"}

	item, err := service.Submit(context.Background(), submitRequest("rejected payload bytes"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(service.GetAllItems()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	failed := service.GetItem(item.ID)
	require.NotNil(t, failed)
	assert.Equal(t, content.StageFailed, failed.Status.Stage)
	assert.Nil(t, failed.Data)
}

func Test_Items_ReleasedWhenFaceDetectionFails(t *testing.T) {
	harness, service := startService(t, defaultTestConfig())

	item, err := service.Submit(context.Background(), submitRequest("face failure payload bytes"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return service.GetItem(item.ID).Status.Stage == content.StageComplete
	}, 2*time.Second, 10*time.Millisecond)

	harness.faces.results <- facedetect.Result{ContentID: item.ID, Err: errors.New("all providers down")}

	// A failed detection must not strand the item in memory; the record
	// simply stays complete without face data.
	require.Eventually(t, func() bool {
		return len(service.GetAllItems()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	record := service.GetItem(item.ID)
	require.NotNil(t, record)
	assert.Equal(t, content.StageComplete, record.Status.Stage)
	require.NotNil(t, record.Analysis)
	assert.Empty(t, record.Analysis.Faces)
}

func Test_Submit_WhileWorkersBusyStillProcessed(t *testing.T) {
	config := processor.Config{
		Parallelism:    1,
		ResyncInterval: 20 * time.Millisecond,
		Retry:          processor.RetryPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, Multiplier: 2.0},
	}
	harness, service := startService(t, config)
	harness.extractor.gate = make(chan struct{})

	first, err := service.Submit(context.Background(), submitRequest("first gated payload bytes"))
	require.NoError(t, err)

	// The sole worker is now blocked inside extraction; a submission made
	// while it is busy must still be picked up once it frees.
	require.Eventually(t, func() bool {
		return harness.extractor.callCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	second, err := service.Submit(context.Background(), submitRequest("second queued payload bytes"))
	require.NoError(t, err)

	close(harness.extractor.gate)

	require.Eventually(t, func() bool {
		return service.GetItem(first.ID).Status.Stage == content.StageComplete &&
			service.GetItem(second.ID).Status.Stage == content.StageComplete
	}, 2*time.Second, 10*time.Millisecond)
}

func Test_FaceCompletion_MergedOntoCompleteItem(t *testing.T) {
	harness, service := startService(t, defaultTestConfig())

	item, err := service.Submit(context.Background(), submitRequest("face payload bytes here"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return service.GetItem(item.ID).Status.Stage == content.StageComplete
	}, 2*time.Second, 10*time.Millisecond)

	harness.faces.results <- facedetect.Result{
		ContentID: item.ID,
		Provider:  "primary",
		Faces:     []content.Face{{Bounds: content.FaceBounds{X: 0.2, Y: 0.2, Width: 0.3, Height: 0.3}, Confidence: 0.97}},
	}

	require.Eventually(t, func() bool {
		enriched := service.GetItem(item.ID)
		return enriched.Analysis != nil && len(enriched.Analysis.Faces) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, content.StageComplete, service.GetItem(item.ID).Status.Stage)
}
