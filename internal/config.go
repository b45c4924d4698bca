package internal

import (
	"fmt"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
	"github.com/soycharroup/memoryreel/internal/ai"
	"github.com/soycharroup/memoryreel/internal/api"
	"github.com/soycharroup/memoryreel/internal/database"
	"github.com/soycharroup/memoryreel/internal/facedetect"
	"github.com/soycharroup/memoryreel/internal/metadata"
	"github.com/soycharroup/memoryreel/internal/processor"
	"github.com/soycharroup/memoryreel/internal/rendition"
	"github.com/soycharroup/memoryreel/internal/validation"
)

const userDirSuffix = "memoryreel"

// MemoryReelConfig is the complete user-supplied configuration, loaded
// from a YAML file with environment variable overrides.
type MemoryReelConfig struct {
	Processor  processor.Config        `yaml:"processor"`
	Intake     processor.IntakeConfig  `yaml:"intake"`
	Validation validation.Config       `yaml:"validation"`
	Metadata   metadata.Config         `yaml:"metadata"`
	Transcoder rendition.Config        `yaml:"transcoder"`
	Memory     rendition.MonitorConfig `yaml:"memory"`
	AI         ai.Config               `yaml:"ai"`
	Providers  []ai.ProviderConfig     `yaml:"ai_providers"`
	FaceDetect facedetect.Config       `yaml:"face_detection"`
	Database   database.DatabaseConfig `yaml:"database" env-required:"true"`
	RestConfig api.RestConfig          `yaml:"api"`

	// StorageDirPath is the root for original payloads and renditions.
	// Defaults to a 'memoryreel' directory under the user's home dir.
	StorageDirPath string `yaml:"storage_dir" env:"STORAGE_DIR"`
}

// LoadFromFile reads a YAML configuration file into this config struct,
// applying environment overrides and defaults.
func (config *MemoryReelConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	return nil
}

// getStorageDir returns the object storage root, deriving the default
// from the user's home directory when no path is configured.
func (config *MemoryReelConfig) getStorageDir() string {
	if config.StorageDirPath != "" {
		return config.StorageDirPath
	}

	home, err := homedir.Dir()
	if err != nil {
		panic(fmt.Sprintf("FAILURE to derive user home dir: %s", err))
	}

	return filepath.Join(home, userDirSuffix, "storage")
}
