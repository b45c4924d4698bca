package content

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/soycharroup/memoryreel/internal/database"
	"github.com/soycharroup/memoryreel/pkg/logger"
)

var (
	ErrContentNotFound = errors.New("content item does not exist")

	log = logger.Get("ContentStore")
)

type (
	// itemModel is the content table row shape. JSONB columns use the
	// JsonColumn container; this struct is internal to the store so the
	// container type never leaks into the public Item API.
	itemModel struct {
		ID               uuid.UUID                              `db:"id"`
		LibraryID        uuid.UUID                              `db:"library_id"`
		DeclaredMimeType string                                 `db:"declared_mime_type"`
		MediaType        MediaType                              `db:"media_type"`
		StorageKey       string                                 `db:"storage_key"`
		Stage            Stage                                  `db:"stage"`
		IsProcessed      bool                                   `db:"is_processed"`
		StartedAt        *time.Time                             `db:"started_at"`
		CompletedAt      *time.Time                             `db:"completed_at"`
		RetryCount       int                                    `db:"retry_count"`
		ActiveProvider   string                                 `db:"active_provider"`
		Progress         int                                    `db:"progress"`
		RemainingStages  database.JsonColumn[[]Stage]           `db:"remaining_stages"`
		LastError        database.JsonColumn[ProcessingError]   `db:"last_error"`
		Metadata         database.JsonColumn[Metadata]          `db:"metadata"`
		Analysis         database.JsonColumn[AIAnalysis]        `db:"analysis"`
		Renditions       database.JsonColumn[RenditionSet]      `db:"renditions"`
		CreatedAt        time.Time                              `db:"created_at"`
		UpdatedAt        time.Time                              `db:"updated_at"`
	}

	Store struct{}
)

func NewStore() *Store { return &Store{} }

// Save upserts the provided item. The persisted processing status is only
// ever written by the orchestrator, which owns the item until completion.
func (store *Store) Save(db database.Queryable, item *Item) error {
	var remaining *[]Stage
	if item.Status.RemainingStages != nil {
		remaining = &item.Status.RemainingStages
	} else {
		remaining = &[]Stage{}
	}

	_, err := db.Exec(db.Rebind(`
		INSERT INTO content(id, library_id, declared_mime_type, media_type, storage_key,
			stage, is_processed, started_at, completed_at, retry_count, active_provider,
			progress, remaining_stages, last_error, metadata, analysis, renditions,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, current_timestamp, current_timestamp)
		ON CONFLICT (id) DO UPDATE SET
			stage = EXCLUDED.stage,
			is_processed = EXCLUDED.is_processed,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			retry_count = EXCLUDED.retry_count,
			active_provider = EXCLUDED.active_provider,
			progress = EXCLUDED.progress,
			remaining_stages = EXCLUDED.remaining_stages,
			last_error = EXCLUDED.last_error,
			metadata = EXCLUDED.metadata,
			analysis = EXCLUDED.analysis,
			renditions = EXCLUDED.renditions,
			updated_at = current_timestamp
	`),
		item.ID, item.LibraryID, item.DeclaredMimeType, item.MediaType, item.StorageKey,
		item.Status.Stage, item.Status.IsProcessed, item.Status.StartedAt, item.Status.CompletedAt,
		item.Status.RetryCount, item.Status.ActiveProvider, item.Status.Progress,
		database.NewJsonColumn(remaining),
		database.NewJsonColumn(item.Status.LastError),
		database.NewJsonColumn(item.Metadata),
		database.NewJsonColumn(item.Analysis),
		database.NewJsonColumn(item.Renditions),
	)
	if err != nil {
		return fmt.Errorf("failed to save content item %s: %w", item.ID, err)
	}

	return nil
}

func (store *Store) Get(db database.Queryable, id uuid.UUID) (*Item, error) {
	query, args, err := selectContentBuilder().Where("content.id=?", id).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select content query: %w", err)
	}

	var model itemModel
	if err := db.Get(&model, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrContentNotFound
		}

		return nil, err
	}

	return modelToItem(&model), nil
}

// GetWithChecksum finds the first item whose extracted metadata carries the
// provided content checksum. Used by deduplication on submission.
func (store *Store) GetWithChecksum(db database.Queryable, checksum string) (*Item, error) {
	query, args, err := selectContentBuilder().
		Where("content.metadata ->> 'checksum' = ?", checksum).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select content query: %w", err)
	}

	var model itemModel
	if err := db.Get(&model, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrContentNotFound
		}

		return nil, err
	}

	return modelToItem(&model), nil
}

func (store *Store) List(db database.Queryable, libraryID uuid.UUID) ([]*Item, error) {
	query, args, err := selectContentBuilder().
		Where("content.library_id=?", libraryID).
		OrderBy("content.created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list content query: %w", err)
	}

	var models []itemModel
	if err := db.Select(&models, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	output := make([]*Item, len(models))
	for k, v := range models {
		output[k] = modelToItem(&v)
	}

	return output, nil
}

func (store *Store) Delete(db database.Queryable, id uuid.UUID) error {
	result, err := db.Exec(db.Rebind(`DELETE FROM content WHERE id=?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete content item %s: %w", id, err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrContentNotFound
	}

	log.Emit(logger.REMOVE, "Deleted content item %s\n", id)
	return nil
}

func selectContentBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select(
			"content.id", "content.library_id", "content.declared_mime_type",
			"content.media_type", "content.storage_key", "content.stage",
			"content.is_processed", "content.started_at", "content.completed_at",
			"content.retry_count", "content.active_provider", "content.progress",
			"content.remaining_stages", "content.last_error", "content.metadata",
			"content.analysis", "content.renditions", "content.created_at",
			"content.updated_at",
		).
		From("content")
}

func modelToItem(model *itemModel) *Item {
	item := &Item{
		ID:               model.ID,
		LibraryID:        model.LibraryID,
		DeclaredMimeType: model.DeclaredMimeType,
		MediaType:        model.MediaType,
		StorageKey:       model.StorageKey,
		Metadata:         model.Metadata.Get(),
		Analysis:         model.Analysis.Get(),
		Renditions:       model.Renditions.Get(),
		Status: Status{
			Stage:          model.Stage,
			IsProcessed:    model.IsProcessed,
			StartedAt:      model.StartedAt,
			CompletedAt:    model.CompletedAt,
			RetryCount:     model.RetryCount,
			ActiveProvider: model.ActiveProvider,
			LastError:      model.LastError.Get(),
			Progress:       model.Progress,
		},
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}

	if remaining := model.RemainingStages.Get(); remaining != nil {
		item.Status.RemainingStages = *remaining
	}

	return item
}
