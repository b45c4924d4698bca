package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soycharroup/memoryreel/internal/ai"
	"github.com/soycharroup/memoryreel/internal/api"
	"github.com/soycharroup/memoryreel/internal/content"
	"github.com/soycharroup/memoryreel/internal/database"
	"github.com/soycharroup/memoryreel/internal/event"
	"github.com/soycharroup/memoryreel/internal/facedetect"
	"github.com/soycharroup/memoryreel/internal/metadata"
	"github.com/soycharroup/memoryreel/internal/processor"
	"github.com/soycharroup/memoryreel/internal/rendition"
	"github.com/soycharroup/memoryreel/internal/storage"
	"github.com/soycharroup/memoryreel/internal/validation"
	"github.com/soycharroup/memoryreel/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	ContentService interface {
		RunnableService
		Submit(ctx context.Context, request processor.SubmitRequest) (*content.Item, error)
		CancelItem(id uuid.UUID) error
		GetItem(id uuid.UUID) *processor.ProcessItem
		GetAllItems() []*processor.ProcessItem
	}
)

// memoryReelImpl is the top-level object for the server, responsible for
// constructing the pipeline components, wiring them together and running
// them until shutdown.
type memoryReelImpl struct {
	eventBus event.EventCoordinator
	config   MemoryReelConfig

	db          database.Manager
	data        *dataOrchestrator
	objectStore storage.Store

	providers []ai.Provider
	engine    *ai.Engine
	monitor   *rendition.MemoryMonitor
	faceQueue RunnableService

	contentService ContentService
	intakeService  RunnableService
	restGateway    RunnableService
}

// New bootstraps all pipeline services against the provided config. Any
// unrecoverable construction failure panics; Run performs the remaining
// I/O-bound initialisation (database connection, provider validation).
func New(config MemoryReelConfig) *memoryReelImpl {
	log.Emit(logger.DEBUG, "Bootstrapping MemoryReel services using config: %#v\n", config)

	reel := &memoryReelImpl{
		eventBus: event.New(),
		config:   config,
	}

	objectStore, err := storage.NewFilesystemStore(config.getStorageDir())
	if err != nil {
		panic(fmt.Sprintf("failed to construct object storage due to error: %s", err))
	}
	reel.objectStore = objectStore

	monitor, err := rendition.NewMemoryMonitor(config.Memory, reel.eventBus)
	if err != nil {
		panic(fmt.Sprintf("failed to construct memory monitor due to error: %s", err))
	}
	reel.monitor = monitor

	for _, providerConfig := range config.Providers {
		reel.providers = append(reel.providers, ai.NewRestProvider(providerConfig))
	}
	reel.engine = ai.New(config.AI, ai.NewHealthTracker(), reel.providers...)

	faceQueue := facedetect.New(config.FaceDetect, reel.engine)
	reel.faceQueue = faceQueue

	reel.db = database.New()
	reel.data = newDataOrchestrator(reel.db)

	reel.contentService = processor.New(
		config.Processor,
		validation.New(config.Validation, &validation.NoopScanner{}),
		metadata.New(config.Metadata, &metadata.ImageProber{}),
		rendition.New(config.Transcoder, rendition.NewImageBackend(), objectStore),
		reel.engine,
		monitor,
		reel.data,
		objectStore,
		faceQueue,
		reel.eventBus,
	)

	if config.Intake.Enabled {
		intake, err := processor.NewIntake(config.Intake, reel.contentService)
		if err != nil {
			panic(fmt.Sprintf("failed to construct intake service due to error: %s", err))
		}
		reel.intakeService = intake
	}

	reel.restGateway = api.NewRestGateway(&config.RestConfig, reel.contentService)

	return reel
}

// Run brings up the database connection, validates the analysis
// providers, and then spawns every service. It will not return until
// MemoryReel is stopped; to stop it, cancel the provided context. Errors
// from which MemoryReel cannot recover also cause it to stop.
func (reel *memoryReelImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	if err := reel.db.Connect(reel.config.Database); err != nil {
		return err
	}

	reel.validateProviders(ctx)

	wg := &sync.WaitGroup{}
	reel.spawnAsyncService(ctx, wg, reel.monitor, "memory-monitor", crashHandler)
	reel.spawnAsyncService(ctx, wg, reel.engine, "analysis-engine", crashHandler)
	reel.spawnAsyncService(ctx, wg, reel.faceQueue, "face-detection", crashHandler)
	reel.spawnAsyncService(ctx, wg, reel.contentService, "content-service", crashHandler)
	reel.spawnAsyncService(ctx, wg, reel.restGateway, "rest-gateway", crashHandler)
	if reel.intakeService != nil {
		reel.spawnAsyncService(ctx, wg, reel.intakeService, "inbox-intake", crashHandler)
	}
	log.Emit(logger.SUCCESS, "MemoryReel services spawned!\n")

	wg.Wait()
	return nil
}

// validateProviders initialises each analysis provider and checks its
// credentials. Failures are non-fatal: the health tracker will keep an
// unreachable provider out of the failover chain until it recovers.
func (reel *memoryReelImpl) validateProviders(parent context.Context) {
	for _, provider := range reel.providers {
		ctx, cancel := context.WithTimeout(parent, time.Second*10)

		if err := provider.Initialize(ctx); err != nil {
			log.Warnf("Provider '%s' failed to initialize: %v\n", provider.Name(), err)
		} else if err := provider.ValidateCredentials(ctx); err != nil {
			log.Warnf("Provider '%s' failed credential validation: %v\n", provider.Name(), err)
		} else {
			log.Infof("Provider '%s' ready\n", provider.Name())
		}

		cancel()
	}
}

// spawnAsyncService runs the provided service as its own goroutine,
// ensuring the service waitgroup is updated correctly and that a panic
// or error from any service brings the server down cleanly.
func (reel *memoryReelImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
