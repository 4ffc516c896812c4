package apply

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArtifactStore writes audit screenshots to a local directory created on
// demand.
type ArtifactStore struct {
	dir string
}

// NewArtifactStore creates a store rooted at dir.
func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{dir: dir}
}

// SaveScreenshot writes png named by outcome and timestamp and returns the
// file's path.
func (a *ArtifactStore) SaveScreenshot(outcome string, png []byte) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifacts directory: %w", err)
	}
	name := fmt.Sprintf("%s-%s.png", outcome, time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("writing screenshot: %w", err)
	}
	return path, nil
}
