package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eddielth/ksysguardd-nvidia/logger"
)

// FileStorage writes one JSON document per device and snapshot under
// <basePath>/device<N>/.
type FileStorage struct {
	basePath string
}

type fileRecord struct {
	CapturedAt time.Time `json:"captured_at"`
	Device     int       `json:"device"`
	Samples    []Sample  `json:"samples"`
}

// NewFileStorage creates basePath if needed.
func NewFileStorage(basePath string) (*FileStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create dir %s failed: %w", basePath, err)
	}

	logger.Info("init file storage: %s", basePath)
	return &FileStorage{
		basePath: basePath,
	}, nil
}

// Store implements StorageBackend.
func (fs *FileStorage) Store(capturedAt time.Time, samples []Sample) error {
	devices, groups := groupByDevice(samples)
	timestamp := capturedAt.UTC().Format("20060102-150405.000")

	for _, device := range devices {
		deviceDir := filepath.Join(fs.basePath, deviceName(device))
		if err := os.MkdirAll(deviceDir, 0755); err != nil {
			return fmt.Errorf("create dir %s failed: %w", deviceDir, err)
		}

		jsonData, err := json.MarshalIndent(fileRecord{
			CapturedAt: capturedAt.UTC(),
			Device:     device,
			Samples:    groups[device],
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("serialize samples failed: %w", err)
		}

		filename := filepath.Join(deviceDir, timestamp+".json")
		if err := os.WriteFile(filename, jsonData, 0644); err != nil {
			return fmt.Errorf("write file %s failed: %w", filename, err)
		}
		logger.Debug("stored snapshot to file: %s", filename)
	}
	return nil
}

// Close implements StorageBackend.
func (fs *FileStorage) Close() error {
	return nil
}
