// Package transcript writes final sentences to plain text files.
package transcript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const layout = "2006-01-02_15-04-05"

// FileSink appends one sentence per line to a file named after the
// moment the sink was created.
type FileSink struct {
	mu   sync.Mutex
	path string
}

func NewFileSink(dir string, now time.Time) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &FileSink{
		path: filepath.Join(dir, now.Format(layout)+".txt"),
	}, nil
}

func (f *FileSink) Path() string {
	return f.path
}

func (f *FileSink) Save(_ context.Context, text string) error {
	if text == "" {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(text + "\n"); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
