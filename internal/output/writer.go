// Package output writes converted documents to the local filesystem.
package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/article2md/internal/article"
)

// Config captures where documents are written.
type Config struct {
	// Dir is the output directory. Images land in its img/ subdirectory.
	Dir string `mapstructure:"dir"`
}

// Writer stores Markdown documents under a base directory.
type Writer struct {
	baseDir string
}

// New creates the base directory when needed and checks it is writable.
func New(cfg Config) (*Writer, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("output directory is required")
	}

	info, err := os.Stat(cfg.Dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create output directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat output directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("output path %s is not a directory", cfg.Dir)
	}

	probe := filepath.Join(cfg.Dir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("output directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &Writer{baseDir: cfg.Dir}, nil
}

// Dir returns the base directory.
func (w *Writer) Dir() string { return w.baseDir }

// Write stores res.Markdown as res.SuggestedFilename and returns the path. An
// existing file is never overwritten; a numeric suffix is added instead.
func (w *Writer) Write(ctx context.Context, res article.ConvertResult) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("write canceled: %w", err)
	}
	name := strings.TrimSpace(res.SuggestedFilename)
	if name == "" {
		return "", errors.New("suggested filename is required")
	}
	full, err := w.resolve(name)
	if err != nil {
		return "", err
	}

	ext := filepath.Ext(full)
	stem := strings.TrimSuffix(full, ext)
	for i := 2; ; i++ {
		f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if errors.Is(err, os.ErrExist) {
			full = fmt.Sprintf("%s (%d)%s", stem, i, ext)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", full, err)
		}
		_, writeErr := f.WriteString(res.Markdown)
		closeErr := f.Close()
		if writeErr != nil {
			return "", fmt.Errorf("write %s: %w", full, writeErr)
		}
		if closeErr != nil {
			return "", fmt.Errorf("close %s: %w", full, closeErr)
		}
		return full, nil
	}
}

// resolve joins name to the base directory and rejects paths that escape it.
func (w *Writer) resolve(name string) (string, error) {
	full := filepath.Clean(filepath.Join(w.baseDir, name))
	base := filepath.Clean(w.baseDir)
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", name)
	}
	return full, nil
}
