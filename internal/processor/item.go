package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/soycharroup/memoryreel/internal/ai"
	"github.com/soycharroup/memoryreel/internal/content"
	"golang.org/x/sync/errgroup"
)

type (
	ItemState int

	// ProcessItem is one submission moving through the pipeline. It wraps
	// the persisted content record with the in-flight data the workers
	// need: the immutable raw payload, the scheduling state, and the
	// cancellation hook for the currently running attempt.
	ProcessItem struct {
		*content.Item

		Filename string
		Data     []byte
		State    ItemState

		cancel context.CancelFunc
	}
)

const (
	// Idle items are eligible to be claimed by a worker.
	Idle ItemState = iota
	// Working items are owned by exactly one worker.
	Working
	// RetryHold items have failed recoverably and are waiting out their
	// backoff delay before returning to Idle.
	RetryHold
	// Done items have reached a terminal stage.
	Done
)

// process runs the concurrent phase of the pipeline: metadata extraction,
// rendition generation and AI analysis all execute against the same
// immutable payload, joined by an error group. The first failure cancels
// the siblings. Results are only merged onto the item once every branch
// has succeeded, so a failed run never leaves the record half-updated.
func (item *ProcessItem) process(ctx context.Context, extract extractor, transcode transcoder, analyze analyzer, advance func(int)) error {
	group, groupCtx := errgroup.WithContext(ctx)

	var (
		meta       *content.Metadata
		renditions *content.RenditionSet
		analysis   *ai.AnalysisResult
	)

	group.Go(func() error {
		result, err := extract.Extract(groupCtx, item.Data, item.Filename)
		if err != nil {
			return fmt.Errorf("metadata extraction: %w", err)
		}

		meta = result
		advance(25)
		return nil
	})

	group.Go(func() error {
		result, err := transcode.Transcode(groupCtx, item.Data, fmt.Sprintf("renditions/%s", item.ID))
		if err != nil {
			return fmt.Errorf("rendition generation: %w", err)
		}

		renditions = result
		advance(25)
		return nil
	})

	group.Go(func() error {
		result, err := analyze.Analyze(groupCtx, item.Data, ai.KindFull)
		if err != nil {
			return fmt.Errorf("content analysis: %w", err)
		}

		analysis = result
		advance(25)
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	item.Metadata = meta
	item.Renditions = renditions
	item.Analysis = &content.AIAnalysis{
		Tags:      analysis.Tags,
		Scene:     analysis.Scene,
		Metrics:   analysis.Metrics,
		UpdatedAt: time.Now(),
	}
	item.Status.ActiveProvider = analysis.Provider

	return nil
}

func (item *ProcessItem) String() string {
	return fmt.Sprintf("ProcessItem{ID=%s stage=%s state=%s}", item.ID, item.Status.Stage, item.State)
}

func (s ItemState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Working:
		return "WORKING"
	case RetryHold:
		return "RETRY_HOLD"
	case Done:
		return "DONE"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", int(s))
	}
}
