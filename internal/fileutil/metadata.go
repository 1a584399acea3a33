package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TranscriptMetadata is the optional sidecar written alongside each
// transcript.
type TranscriptMetadata struct {
	Version       string    `json:"version"`
	RunID         string    `json:"run_id"`
	Source        string    `json:"source"`
	Backend       string    `json:"backend"`
	Model         string    `json:"model"`
	Language      string    `json:"language,omitempty"`
	AudioDuration string    `json:"audio_duration,omitempty"`
	Formats       []string  `json:"formats"`
	Attempts      int       `json:"attempts"`
	TranscribedAt time.Time `json:"transcribed_at"`
}

// WriteMetadata writes a <basePath>.meta.json sidecar file atomically
// (temp + rename), matching the transcript writers.
func WriteMetadata(basePath string, meta *TranscriptMetadata) error {
	metaPath := basePath + ".meta.json"
	dir := filepath.Dir(metaPath)

	tmpFile, err := os.CreateTemp(dir, "meta-*.tmp")
	if err != nil {
		return fmt.Errorf("create metadata temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(meta); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync metadata: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close metadata: %w", err)
	}

	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename metadata: %w", err)
	}
	success = true
	return nil
}
