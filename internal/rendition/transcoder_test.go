package rendition_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/soycharroup/memoryreel/internal/content"
	"github.com/soycharroup/memoryreel/internal/rendition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mutex   sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (store *memoryStore) Put(_ context.Context, key string, data []byte) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.objects[key] = data
	return nil
}

func (store *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	data, ok := store.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (store *memoryStore) Delete(_ context.Context, key string) error { return nil }

// scriptedBackend fails or succeeds per call in a thread-safe manner, and
// can optionally block on a gate to hold the admission queue occupied.
type scriptedBackend struct {
	mutex         sync.Mutex
	convertCalls  int
	thumbCalls    int
	convertErr    error
	thumbErrFor   map[string]error
	gate          chan struct{}
}

func (backend *scriptedBackend) Convert(ctx context.Context, _ []byte, preset rendition.Preset) (*content.Variant, []byte, error) {
	if backend.gate != nil {
		select {
		case <-backend.gate:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	backend.mutex.Lock()
	defer backend.mutex.Unlock()

	backend.convertCalls++
	if backend.convertErr != nil {
		return nil, nil, backend.convertErr
	}

	return &content.Variant{Name: preset.Name, Width: preset.Width, Height: preset.Height, Quality: preset.Quality}, []byte("variant"), nil
}

func (backend *scriptedBackend) Thumbnail(_ context.Context, _ []byte, size rendition.ThumbSize) (*content.Thumbnail, []byte, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()

	backend.thumbCalls++
	if err, ok := backend.thumbErrFor[size.Tag]; ok {
		return nil, nil, err
	}

	return &content.Thumbnail{SizeTag: size.Tag, Width: size.Width, Height: size.Height}, []byte("thumb"), nil
}

func defaultConfig() rendition.Config {
	return rendition.Config{
		QueueCapacity:    4,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Millisecond * 100,
		Presets:          []rendition.Preset{{Name: "medium", Width: 1280, Height: 720, Quality: 75}},
	}
}

func Test_Transcode_ProducesVariantsAndThumbnails(t *testing.T) {
	backend := &scriptedBackend{}
	store := newMemoryStore()
	transcoder := rendition.New(defaultConfig(), backend, store)

	set, err := transcoder.Transcode(context.Background(), []byte("payload"), "content/abc")

	require.NoError(t, err)
	require.Len(t, set.Variants, 1)
	assert.Equal(t, "content/abc/renditions/medium.jpg", set.Variants[0].StorageKey)
	assert.Len(t, set.Thumbnails, 3)

	_, err = store.Get(context.Background(), "content/abc/thumbnails/small.jpg")
	assert.NoError(t, err)
}

func Test_Transcode_ThumbnailFailureIsPartialSuccess(t *testing.T) {
	backend := &scriptedBackend{thumbErrFor: map[string]error{"large": errors.New("resize blew up")}}
	transcoder := rendition.New(defaultConfig(), backend, newMemoryStore())

	set, err := transcoder.Transcode(context.Background(), []byte("payload"), "content/abc")

	require.NoError(t, err)
	assert.Len(t, set.Variants, 1)
	assert.Len(t, set.Thumbnails, 2, "one failed thumbnail size must be skipped, not fatal")
}

func Test_Transcode_NoPrimaryRenditionFailsCall(t *testing.T) {
	backend := &scriptedBackend{convertErr: errors.New("encoder crashed")}
	transcoder := rendition.New(defaultConfig(), backend, newMemoryStore())

	_, err := transcoder.Transcode(context.Background(), []byte("payload"), "content/abc")

	assert.ErrorIs(t, err, rendition.ErrNoRenditions)
}

func Test_Transcode_QueueFullRejectsImmediately(t *testing.T) {
	gate := make(chan struct{})
	backend := &scriptedBackend{gate: gate}

	config := defaultConfig()
	config.QueueCapacity = 1
	transcoder := rendition.New(config, backend, newMemoryStore())

	// Occupy the only admission slot with a blocked submission.
	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = transcoder.Transcode(context.Background(), []byte("payload"), "content/first")
	}()
	<-started
	time.Sleep(time.Millisecond * 20)

	start := time.Now()
	_, err := transcoder.Transcode(context.Background(), []byte("payload"), "content/second")

	assert.ErrorIs(t, err, rendition.ErrQueueFull)
	assert.Less(t, time.Since(start), time.Millisecond*50, "queue-full rejection must not block")

	close(gate)
}

func Test_Transcode_CircuitBreakerOpensAndRecovers(t *testing.T) {
	backend := &scriptedBackend{convertErr: errors.New("backend down")}

	config := defaultConfig()
	config.BreakerThreshold = 3
	config.BreakerCooldown = time.Millisecond * 50
	transcoder := rendition.New(config, backend, newMemoryStore())

	// Trip the breaker with three consecutive failures.
	for i := 0; i < 3; i++ {
		_, err := transcoder.Transcode(context.Background(), []byte("payload"), "content/abc")
		assert.ErrorIs(t, err, rendition.ErrNoRenditions)
	}
	callsWhenTripped := backend.convertCalls

	// While open, calls fail fast without touching the backend.
	_, err := transcoder.Transcode(context.Background(), []byte("payload"), "content/abc")
	assert.ErrorIs(t, err, rendition.ErrBackendUnavailable)
	assert.Equal(t, callsWhenTripped, backend.convertCalls, "open breaker must not invoke the backend")

	// After the cooldown the half-open trial call is allowed through; the
	// backend has recovered so the breaker closes again.
	backend.mutex.Lock()
	backend.convertErr = nil
	backend.mutex.Unlock()
	time.Sleep(time.Millisecond * 60)

	set, err := transcoder.Transcode(context.Background(), []byte("payload"), "content/abc")
	require.NoError(t, err)
	assert.Len(t, set.Variants, 1)
	assert.Greater(t, backend.convertCalls, callsWhenTripped)
}

func Test_ImageBackend_FitsWithinPreset(t *testing.T) {
	var buffer bytes.Buffer
	require.NoError(t, png.Encode(&buffer, image.NewRGBA(image.Rect(0, 0, 2000, 1000))))

	backend := rendition.NewImageBackend()
	variant, output, err := backend.Convert(context.Background(), buffer.Bytes(), rendition.Preset{Name: "medium", Width: 1280, Height: 720, Quality: 75})

	require.NoError(t, err)
	assert.NotEmpty(t, output)
	assert.LessOrEqual(t, variant.Width, 1280)
	assert.LessOrEqual(t, variant.Height, 720)
	assert.Equal(t, "medium", variant.Name)
}

func Test_ImageBackend_ThumbnailExactDimensions(t *testing.T) {
	var buffer bytes.Buffer
	require.NoError(t, png.Encode(&buffer, image.NewRGBA(image.Rect(0, 0, 800, 600))))

	backend := rendition.NewImageBackend()
	thumbnail, output, err := backend.Thumbnail(context.Background(), buffer.Bytes(), rendition.ThumbSize{Tag: "small", Width: 160, Height: 160})

	require.NoError(t, err)
	assert.NotEmpty(t, output)
	assert.Equal(t, 160, thumbnail.Width)
	assert.Equal(t, 160, thumbnail.Height)
}
