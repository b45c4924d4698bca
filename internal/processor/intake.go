package processor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rjeczalik/notify"
	"github.com/soycharroup/memoryreel/internal/content"
	"github.com/soycharroup/memoryreel/pkg/logger"
)

var intakeLog = logger.Get("Intake")

type (
	IntakeConfig struct {
		Enabled          bool   `yaml:"enabled" env:"INTAKE_ENABLED" env-default:"false"`
		InboxPath        string `yaml:"inbox_path" env:"INTAKE_INBOX_PATH" env-default:"/mnt/memoryreel/inbox"`
		LibraryID        string `yaml:"library_id" env:"INTAKE_LIBRARY_ID"`
		ForceSyncSeconds int    `yaml:"force_sync_seconds" env:"INTAKE_FORCE_SYNC_SECONDS" env-default:"60"`
		MinModTimeAge    int    `yaml:"min_mod_time_age_seconds" env:"INTAKE_MIN_MOD_TIME_AGE" env-default:"5"`
	}

	submitter interface {
		Submit(ctx context.Context, request SubmitRequest) (*content.Item, error)
	}

	// intakeService watches a local inbox directory and submits any new
	// file it finds into the pipeline. Files still being copied are left
	// alone until their modification time settles; the periodic force
	// sync picks them up on a later pass.
	intakeService struct {
		*sync.Mutex

		config    IntakeConfig
		libraryID uuid.UUID
		submitter submitter
		submitted map[string]bool
	}
)

// NewIntake constructs the inbox watcher. The inbox path is validated to
// be an existing directory and created when missing.
func NewIntake(config IntakeConfig, submitter submitter) (*intakeService, error) {
	if info, err := os.Stat(config.InboxPath); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("inbox path '%s' is not a directory", config.InboxPath)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(config.InboxPath, os.ModeDir|os.ModePerm); err != nil {
			return nil, fmt.Errorf("inbox path '%s' could not be created: %w", config.InboxPath, err)
		}
	} else {
		return nil, fmt.Errorf("inbox path '%s' could not be accessed: %w", config.InboxPath, err)
	}

	libraryID, err := uuid.Parse(config.LibraryID)
	if err != nil {
		return nil, fmt.Errorf("intake library ID '%s' is not a valid UUID: %w", config.LibraryID, err)
	}

	return &intakeService{
		Mutex:     &sync.Mutex{},
		config:    config,
		libraryID: libraryID,
		submitter: submitter,
		submitted: make(map[string]bool),
	}, nil
}

// Run watches the inbox for file system changes and additionally polls it
// on the configured force-sync interval, until the context is cancelled.
func (service *intakeService) Run(ctx context.Context) error {
	notifyChannel := make(chan notify.EventInfo, 16)
	if err := notify.Watch(filepath.Join(service.config.InboxPath, "..."), notifyChannel, notify.Create, notify.Rename); err != nil {
		return fmt.Errorf("failed to watch inbox '%s': %w", service.config.InboxPath, err)
	}
	defer notify.Stop(notifyChannel)

	forceSync := time.NewTicker(time.Second * time.Duration(service.config.ForceSyncSeconds))
	defer forceSync.Stop()

	service.DiscoverNewFiles(ctx)

	for {
		select {
		case <-notifyChannel:
			service.DiscoverNewFiles(ctx)
		case <-forceSync.C:
			service.DiscoverNewFiles(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// DiscoverNewFiles scans the inbox and submits every settled file that
// has not been submitted before.
func (service *intakeService) DiscoverNewFiles(ctx context.Context) {
	service.Lock()
	defer service.Unlock()

	found, err := walkInbox(service.config.InboxPath, service.submitted)
	if err != nil {
		intakeLog.Errorf("Inbox scan failed: %v\n", err)
		return
	}

	minAge := time.Second * time.Duration(service.config.MinModTimeAge)
	for path, info := range found {
		if time.Since(info.ModTime()) < minAge {
			// Likely still being copied in; the force sync will revisit.
			continue
		}

		service.submitFile(ctx, path)
	}
}

func (service *intakeService) submitFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		intakeLog.Errorf("Failed to read inbox file '%s': %v\n", path, err)
		return
	}

	declaredType := mimetype.Detect(data).String()
	item, err := service.submitter.Submit(ctx, SubmitRequest{
		LibraryID:        service.libraryID,
		Filename:         filepath.Base(path),
		DeclaredMimeType: declaredType,
		Data:             data,
	})
	if err != nil {
		intakeLog.Warnf("Submission of inbox file '%s' rejected: %v\n", path, err)
		return
	}

	service.submitted[path] = true
	intakeLog.Infof("Submitted inbox file '%s' as content %s\n", path, item.ID)
}

// walkInbox builds a map of every file under the inbox directory, keyed
// by path, excluding paths present in the known set.
func walkInbox(rootDirPath string, known map[string]bool) (map[string]fs.FileInfo, error) {
	foundItems := make(map[string]fs.FileInfo)
	err := filepath.WalkDir(rootDirPath, func(path string, dir fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if dir.IsDir() {
			return nil
		}

		info, err := dir.Info()
		if err != nil {
			return err
		}

		if !known[path] {
			foundItems[path] = info
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk inbox: %w", err)
	}

	return foundItems, nil
}
