// Package local is a file picker rooted at one directory: it lists the
// images a user can choose and loads them with the declared type a browser
// picker would report.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vbonduro/imagelab/internal/imagesource"
)

var (
	ErrNotFound    = errors.New("image not found")
	ErrInvalidName = errors.New("invalid image name")
)

type Entry struct {
	Name     string
	MIMEType string
	Size     int64
}

type Library struct {
	basePath string
	maxBytes int64
}

func NewLibrary(basePath string, maxBytes int64) (*Library, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open image directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("image directory %s is not a directory", basePath)
	}
	return &Library{basePath: basePath, maxBytes: maxBytes}, nil
}

// List returns the files whose declared type is image/*, sorted by name.
func (l *Library) List(ctx context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if de.IsDir() {
			continue
		}
		mimeType := imagesource.DeclaredType(de.Name())
		if !strings.HasPrefix(mimeType, "image/") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), MIMEType: mimeType, Size: info.Size()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (l *Library) Open(ctx context.Context, name string) (*imagesource.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := l.safeJoin(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	return imagesource.LoadFile(filePath, l.maxBytes)
}

// safeJoin resolves name relative to basePath and rejects directory traversal.
func (l *Library) safeJoin(name string) (string, error) {
	absBase, err := filepath.Abs(l.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(l.basePath, name))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal attempt", ErrInvalidName)
	}
	return absPath, nil
}
