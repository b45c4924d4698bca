package internal

import (
	"errors"

	"github.com/google/uuid"
	"github.com/soycharroup/memoryreel/internal/content"
	"github.com/soycharroup/memoryreel/internal/database"
)

// dataOrchestrator bundles the persistent stores behind the narrow
// persistence contracts the services consume, so that they need not know
// about the database manager or transactions.
type dataOrchestrator struct {
	db           database.Manager
	contentStore *content.Store
}

func newDataOrchestrator(db database.Manager) *dataOrchestrator {
	return &dataOrchestrator{
		db:           db,
		contentStore: content.NewStore(),
	}
}

func (data *dataOrchestrator) SaveContent(item *content.Item) error {
	return data.contentStore.Save(data.db.GetSqlxDb(), item)
}

func (data *dataOrchestrator) GetContent(id uuid.UUID) (*content.Item, error) {
	return data.contentStore.Get(data.db.GetSqlxDb(), id)
}

// GetContentWithChecksum returns (nil, nil) when no record carries the
// provided checksum, which is the shape the orchestrator's deduplication
// expects.
func (data *dataOrchestrator) GetContentWithChecksum(checksum string) (*content.Item, error) {
	item, err := data.contentStore.GetWithChecksum(data.db.GetSqlxDb(), checksum)
	if errors.Is(err, content.ErrContentNotFound) {
		return nil, nil
	}

	return item, err
}

func (data *dataOrchestrator) ListContent(libraryID uuid.UUID) ([]*content.Item, error) {
	return data.contentStore.List(data.db.GetSqlxDb(), libraryID)
}

func (data *dataOrchestrator) DeleteContent(id uuid.UUID) error {
	return data.contentStore.Delete(data.db.GetSqlxDb(), id)
}
