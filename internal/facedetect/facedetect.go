// Face detection runs outside the main pipeline join: completed items
// submit a batch job here and the orchestrator merges the detections back
// on to the record when the result surfaces on the completion channel.
package facedetect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soycharroup/memoryreel/internal/ai"
	"github.com/soycharroup/memoryreel/internal/content"
	"github.com/soycharroup/memoryreel/pkg/logger"
)

var log = logger.Get("FaceDetect")

var ErrQueueFull = errors.New("face detection queue is full")

type (
	Config struct {
		QueueCapacity int `yaml:"queue_capacity" env:"FACEDETECT_QUEUE_CAPACITY" env-default:"32"`
		Workers       int `yaml:"workers" env:"FACEDETECT_WORKERS" env-default:"2"`
	}

	// Job is one pending detection request. The payload is the same
	// immutable buffer the pipeline processed.
	Job struct {
		ContentID uuid.UUID
		LibraryID uuid.UUID
		Data      []byte
	}

	// Result carries the outcome for one job. Err is set when every
	// provider was exhausted; Faces is nil in that case.
	Result struct {
		ContentID uuid.UUID
		Provider  string
		Faces     []content.Face
		Err       error
	}

	detector interface {
		DetectFaces(ctx context.Context, data []byte) (*ai.FaceDetectionResult, error)
	}

	// Queue is the asynchronous face-detection collaborator consumed by
	// the orchestrator.
	Queue interface {
		SubmitBatch(ctx context.Context, jobs ...Job) error
		Completions() <-chan Result
	}

	queue struct {
		config   Config
		detector detector
		jobs     chan Job
		results  chan Result
	}
)

func New(config Config, det detector) *queue {
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = 32
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}

	return &queue{
		config:   config,
		detector: det,
		jobs:     make(chan Job, config.QueueCapacity),
		results:  make(chan Result, config.QueueCapacity),
	}
}

// SubmitBatch enqueues the provided jobs. A full queue rejects the
// remaining jobs immediately rather than blocking the caller.
func (q *queue) SubmitBatch(_ context.Context, jobs ...Job) error {
	for _, job := range jobs {
		select {
		case q.jobs <- job:
		default:
			return ErrQueueFull
		}
	}

	return nil
}

// Completions exposes the result stream. The channel is buffered; the
// consumer should drain it promptly to keep the workers from stalling.
func (q *queue) Completions() <-chan Result {
	return q.results
}

// Run drains the job queue with the configured number of workers until
// the context is cancelled.
func (q *queue) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < q.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx)
		}()
	}

	wg.Wait()
	return nil
}

func (q *queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.runJob(ctx, job)
		}
	}
}

func (q *queue) runJob(ctx context.Context, job Job) {
	start := time.Now()
	detection, err := q.detector.DetectFaces(ctx, job.Data)
	if err != nil {
		log.Warnf("Face detection for content %s failed: %v\n", job.ContentID, err)
		q.deliver(ctx, Result{ContentID: job.ContentID, Err: err})
		return
	}

	log.Debugf("Detected %d face(s) for content %s in %s\n", len(detection.Faces), job.ContentID, time.Since(start))
	q.deliver(ctx, Result{
		ContentID: job.ContentID,
		Provider:  detection.Provider,
		Faces:     detection.Faces,
	})
}

func (q *queue) deliver(ctx context.Context, result Result) {
	select {
	case q.results <- result:
	case <-ctx.Done():
	}
}
