package processor_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/soycharroup/memoryreel/internal/ai"
	"github.com/soycharroup/memoryreel/internal/processor"
	"github.com/soycharroup/memoryreel/internal/rendition"
	"github.com/soycharroup/memoryreel/internal/validation"
	"github.com/stretchr/testify/assert"
)

func Test_Classify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected processor.ErrorKind
	}{
		{"cancellation", context.Canceled, processor.KindCancelled},
		{"wrapped cancellation", fmt.Errorf("content analysis: %w", context.Canceled), processor.KindCancelled},
		{"size rejection", &validation.ValidationError{Kind: validation.FailureSize}, processor.KindValidation},
		{"mime rejection", &validation.ValidationError{Kind: validation.FailureMimeType}, processor.KindValidation},
		{"malware match", &validation.ValidationError{Kind: validation.FailureSecurity}, processor.KindSecurity},
		{"transcode queue full", fmt.Errorf("rendition generation: %w", rendition.ErrQueueFull), processor.KindResourceExhausted},
		{"breaker open", fmt.Errorf("rendition generation: %w", rendition.ErrBackendUnavailable), processor.KindTransient},
		{"providers exhausted", &ai.ExhaustedError{Operation: "analyze", LastErr: errors.New("boom")}, processor.KindProvider},
		{"unknown error", errors.New("something odd"), processor.KindTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, processor.Classify(test.err))
		})
	}
}

func Test_ErrorKind_Recoverable(t *testing.T) {
	assert.True(t, processor.KindTransient.Recoverable())
	assert.True(t, processor.KindProvider.Recoverable())
	assert.True(t, processor.KindResourceExhausted.Recoverable())
	assert.False(t, processor.KindValidation.Recoverable())
	assert.False(t, processor.KindSecurity.Recoverable())
	assert.False(t, processor.KindCancelled.Recoverable())
}

func Test_RetryPolicy_Delay(t *testing.T) {
	policy := processor.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2.0}

	assert.Equal(t, time.Second, policy.Delay(1))
	assert.Equal(t, 2*time.Second, policy.Delay(2))
	assert.Equal(t, 4*time.Second, policy.Delay(3))
}

func Test_RetryPolicy_Exhausted(t *testing.T) {
	policy := processor.RetryPolicy{MaxAttempts: 3}

	assert.False(t, policy.Exhausted(0))
	assert.False(t, policy.Exhausted(2))
	assert.True(t, policy.Exhausted(3))
	assert.True(t, policy.Exhausted(5))
}
