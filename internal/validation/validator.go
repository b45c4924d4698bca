package validation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/soycharroup/memoryreel/internal/content"
	"github.com/soycharroup/memoryreel/pkg/logger"
)

var log = logger.Get("Validator")

type (
	// FailureKind categorises why a submission was rejected. Security
	// failures (malware match or scan timeout) are never retried.
	FailureKind int

	// ValidationError is returned for any submission this validator
	// rejects. It is a bad-input error; the orchestrator fails the item
	// immediately without consuming retry budget.
	ValidationError struct {
		Kind    FailureKind
		Message string
	}

	Config struct {
		MinSizeBytes      int64         `yaml:"min_size_bytes" env:"VALIDATION_MIN_SIZE" env-default:"100"`
		MaxImageSizeBytes int64         `yaml:"max_image_size_bytes" env:"VALIDATION_MAX_IMAGE_SIZE" env-default:"26214400"`
		MaxVideoSizeBytes int64         `yaml:"max_video_size_bytes" env:"VALIDATION_MAX_VIDEO_SIZE" env-default:"524288000"`
		ScanTimeout       time.Duration `yaml:"scan_timeout" env:"VALIDATION_SCAN_TIMEOUT" env-default:"10s"`
	}

	// Validator checks size, declared type and extension/type consistency
	// before racing the configured malware scanner against the scan timeout.
	// Aside from the scan call it is pure; no other side effects.
	Validator struct {
		config  Config
		scanner Scanner
	}
)

const (
	FailureSize FailureKind = iota
	FailureMimeType
	FailureExtension
	FailureSecurity
)

// allowedMimeTypes is the explicit allow-list of declared MIME types;
// anything else is rejected before the bytes are inspected at all.
var allowedMimeTypes = map[string]content.MediaType{
	"image/jpeg":      content.MediaTypeImage,
	"image/png":       content.MediaTypeImage,
	"image/gif":       content.MediaTypeImage,
	"image/webp":      content.MediaTypeImage,
	"image/heic":      content.MediaTypeImage,
	"video/mp4":       content.MediaTypeVideo,
	"video/mpeg":      content.MediaTypeVideo,
	"video/webm":      content.MediaTypeVideo,
	"video/quicktime": content.MediaTypeVideo,
}

// extensionsForMime maps each allow-listed MIME type to the file
// extensions it may legitimately carry.
var extensionsForMime = map[string][]string{
	"image/jpeg":      {".jpg", ".jpeg"},
	"image/png":       {".png"},
	"image/gif":       {".gif"},
	"image/webp":      {".webp"},
	"image/heic":      {".heic", ".heif"},
	"video/mp4":       {".mp4", ".m4v"},
	"video/mpeg":      {".mpeg", ".mpg"},
	"video/webm":      {".webm"},
	"video/quicktime": {".mov"},
}

func New(config Config, scanner Scanner) *Validator {
	return &Validator{config: config, scanner: scanner}
}

// MediaTypeFor returns the broad media category for an allow-listed MIME
// type, or false if the MIME type is not accepted at all.
func MediaTypeFor(declaredMimeType string) (content.MediaType, bool) {
	mediaType, ok := allowedMimeTypes[strings.ToLower(declaredMimeType)]
	return mediaType, ok
}

// Validate applies every check in order, failing fast on the first
// violation:
//   - byte length within the floor and the type-specific ceiling
//   - declared MIME type allow-listed
//   - file extension consistent with the declared type
//   - sniffed content type consistent with the declared category
//   - malware scan, raced against the configured timeout
//
// A scan timeout is treated identically to a positive match: the
// submission is rejected, never silently passed as clean.
func (validator *Validator) Validate(ctx context.Context, data []byte, filename string, declaredMimeType string) error {
	declared := strings.ToLower(declaredMimeType)
	mediaType, ok := allowedMimeTypes[declared]
	if !ok {
		return &ValidationError{FailureMimeType, fmt.Sprintf("declared type '%s' is not an accepted content type", declaredMimeType)}
	}

	size := int64(len(data))
	if size < validator.config.MinSizeBytes {
		return &ValidationError{FailureSize, fmt.Sprintf("file size %d bytes is below the minimum of %d bytes", size, validator.config.MinSizeBytes)}
	}

	ceiling := validator.config.MaxImageSizeBytes
	if mediaType == content.MediaTypeVideo {
		ceiling = validator.config.MaxVideoSizeBytes
	}
	if size > ceiling {
		return &ValidationError{FailureSize, fmt.Sprintf("file size %d bytes exceeds the %s ceiling of %d bytes", size, mediaType, ceiling)}
	}

	extension := strings.ToLower(filepath.Ext(filename))
	if !extensionAllowed(declared, extension) {
		return &ValidationError{FailureExtension, fmt.Sprintf("extension '%s' does not match declared type '%s'", extension, declaredMimeType)}
	}

	// The declared type is client-supplied; cross-check it against what the
	// bytes actually look like so a renamed payload cannot sneak through.
	sniffed := mimetype.Detect(data)
	if !strings.HasPrefix(sniffed.String(), string(mediaType)+"/") {
		return &ValidationError{FailureMimeType, fmt.Sprintf("content sniffed as '%s' which is not %s content", sniffed.String(), mediaType)}
	}

	return validator.runScan(ctx, data)
}

// runScan races the malware scan against the configured timeout. The scan
// result channel is buffered so an overdue scanner goroutine can complete
// and exit after the timeout has already failed the item.
func (validator *Validator) runScan(ctx context.Context, data []byte) error {
	scanCtx, cancel := context.WithTimeout(ctx, validator.config.ScanTimeout)
	defer cancel()

	type scanOutcome struct {
		result ScanResult
		err    error
	}

	outcomeChan := make(chan scanOutcome, 1)
	go func() {
		result, err := validator.scanner.Scan(scanCtx, data)
		outcomeChan <- scanOutcome{result, err}
	}()

	select {
	case outcome := <-outcomeChan:
		if outcome.err != nil {
			log.Warnf("Malware scan failed: %v\n", outcome.err)
			return &ValidationError{FailureSecurity, fmt.Sprintf("malware scan failed: %v", outcome.err)}
		}
		if outcome.result.Infected {
			log.Emit(logger.STOP, "Malware scan reported positive match: %s\n", outcome.result.Signature)
			return &ValidationError{FailureSecurity, fmt.Sprintf("malware detected (%s)", outcome.result.Signature)}
		}

		return nil
	case <-scanCtx.Done():
		// Distinguish the caller abandoning the item from the scanner
		// overrunning its budget; only the latter is a security rejection.
		if err := ctx.Err(); err != nil {
			return err
		}

		log.Warnf("Malware scan did not complete within %s\n", validator.config.ScanTimeout)
		return &ValidationError{FailureSecurity, "malware scan timed out before completing"}
	}
}

func extensionAllowed(declaredMimeType string, extension string) bool {
	for _, allowed := range extensionsForMime[declaredMimeType] {
		if allowed == extension {
			return true
		}
	}

	return false
}

func (e *ValidationError) Error() string { return e.Message }

func (k FailureKind) String() string {
	switch k {
	case FailureSize:
		return "SIZE"
	case FailureMimeType:
		return "MIME_TYPE"
	case FailureExtension:
		return "EXTENSION"
	case FailureSecurity:
		return "SECURITY"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", k)
	}
}
