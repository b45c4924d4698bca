package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/soycharroup/memoryreel/internal"
	"github.com/soycharroup/memoryreel/pkg/logger"
)

var log = logger.Get("Main")

// main loads the user configuration, constructs the MemoryReel server
// and runs it until an interrupt or termination signal arrives.
func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.DEBUG.Level())
	}

	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v\n", err)
	}

	config := internal.MemoryReelConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "MemoryReel stopped with error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "MemoryReel shut down\n")
}
