package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/soycharroup/memoryreel/internal/ai"
	"github.com/soycharroup/memoryreel/internal/content"
	"github.com/soycharroup/memoryreel/internal/rendition"
	"github.com/soycharroup/memoryreel/internal/validation"
)

// ErrorKind categorises a pipeline failure for the purposes of the retry
// decision. Only recoverable kinds are ever re-dispatched; validation,
// security and cancellation failures are final on first occurrence.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindTransient         ErrorKind = "transient"
	KindProvider          ErrorKind = "provider"
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindSecurity          ErrorKind = "security"
	KindCancelled         ErrorKind = "cancelled"
)

// Recoverable reports whether a failure of this kind is eligible for a
// retry (budget permitting).
func (kind ErrorKind) Recoverable() bool {
	switch kind {
	case KindTransient, KindProvider, KindResourceExhausted:
		return true
	default:
		return false
	}
}

// Classify maps an error raised by one of the pipeline collaborators to
// its taxonomy kind. Unknown errors are treated as transient so that an
// unexpected hiccup gets the benefit of the retry budget rather than
// permanently failing the item.
func Classify(err error) ErrorKind {
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	var validationErr *validation.ValidationError
	if errors.As(err, &validationErr) {
		if validationErr.Kind == validation.FailureSecurity {
			return KindSecurity
		}
		return KindValidation
	}

	if errors.Is(err, rendition.ErrQueueFull) {
		return KindResourceExhausted
	}

	var exhaustedErr *ai.ExhaustedError
	if errors.As(err, &exhaustedErr) {
		return KindProvider
	}

	return KindTransient
}

// newProcessingError builds the persisted form of a failure. Provider
// errors are summarised rather than copied verbatim so that raw provider
// internals never end up in a persisted record.
func newProcessingError(kind ErrorKind, stage content.Stage, err error) *content.ProcessingError {
	message := err.Error()

	var exhaustedErr *ai.ExhaustedError
	if errors.As(err, &exhaustedErr) {
		message = fmt.Sprintf("all analysis providers exhausted for %s (%d attempted)", exhaustedErr.Operation, len(exhaustedErr.Attempted))
	}

	return &content.ProcessingError{
		Kind:    string(kind),
		Stage:   stage,
		Message: message,
	}
}
