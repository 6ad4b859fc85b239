package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	logFile = "serve.log"
)

// OpenServeLog opens the append-only JSON log written by stacks serve
// alongside its terminal output, creating the .stacks/ directory if needed.
func (m *Manager) OpenServeLog(overrideDir string) (*os.File, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(dir, logFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening serve log: %w", err)
	}
	return f, nil
}
