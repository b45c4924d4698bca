package processor_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/soycharroup/memoryreel/internal/content"
	"github.com/soycharroup/memoryreel/internal/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu       sync.Mutex
	requests []processor.SubmitRequest
}

func (s *recordingSubmitter) Submit(_ context.Context, request processor.SubmitRequest) (*content.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, request)
	return content.New(request.LibraryID, request.DeclaredMimeType, content.MediaTypeImage, "originals/test"), nil
}

func (s *recordingSubmitter) all() []processor.SubmitRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]processor.SubmitRequest(nil), s.requests...)
}

// Minimal JPEG magic bytes, enough for content sniffing to classify the
// payload as image/jpeg.
var jpegPayload = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 200)...)

func intakeConfig(inbox string) processor.IntakeConfig {
	return processor.IntakeConfig{
		Enabled:          true,
		InboxPath:        inbox,
		LibraryID:        uuid.New().String(),
		ForceSyncSeconds: 60,
		MinModTimeAge:    0,
	}
}

func Test_NewIntake_RejectsFilePath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := processor.NewIntake(intakeConfig(file), &recordingSubmitter{})
	assert.ErrorContains(t, err, "is not a directory")
}

func Test_NewIntake_CreatesMissingInbox(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "inbox")

	_, err := processor.NewIntake(intakeConfig(inbox), &recordingSubmitter{})
	require.NoError(t, err)

	info, err := os.Stat(inbox)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func Test_NewIntake_RejectsInvalidLibraryID(t *testing.T) {
	config := intakeConfig(t.TempDir())
	config.LibraryID = "not-a-uuid"

	_, err := processor.NewIntake(config, &recordingSubmitter{})
	assert.ErrorContains(t, err, "not a valid UUID")
}

func Test_DiscoverNewFiles_SubmitsEachFileOnce(t *testing.T) {
	inbox := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "a.jpg"), jpegPayload, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "b.jpg"), jpegPayload, 0o644))

	submitter := &recordingSubmitter{}
	intake, err := processor.NewIntake(intakeConfig(inbox), submitter)
	require.NoError(t, err)

	intake.DiscoverNewFiles(context.Background())
	require.Len(t, submitter.all(), 2)

	// A second pass must not resubmit already-accepted files.
	intake.DiscoverNewFiles(context.Background())
	assert.Len(t, submitter.all(), 2)

	request := submitter.all()[0]
	assert.Equal(t, "image/jpeg", request.DeclaredMimeType)
	assert.NotEmpty(t, request.Data)
}

func Test_DiscoverNewFiles_SkipsFreshFiles(t *testing.T) {
	inbox := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "copying.jpg"), jpegPayload, 0o644))

	config := intakeConfig(inbox)
	config.MinModTimeAge = 3600

	submitter := &recordingSubmitter{}
	intake, err := processor.NewIntake(config, submitter)
	require.NoError(t, err)

	intake.DiscoverNewFiles(context.Background())
	assert.Empty(t, submitter.all())
}
