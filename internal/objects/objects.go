// Package objects stores and fetches item photos by reference.
package objects

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/hyperjump/temuan/internal/config"
)

// ErrNotConfigured is returned when no object store is configured.
var ErrNotConfigured = errors.New("no image object store configured")

// Store reads and writes image objects addressed by ref.
type Store interface {
	Get(ctx context.Context, ref string) ([]byte, error)
	Put(ctx context.Context, ref string, data []byte) error
	Delete(ctx context.Context, ref string) error
	// Name describes the backend for logs and status output.
	Name() string
}

// New returns a MinIO store when an endpoint is configured, otherwise a
// directory store when LocalDir is set. With neither, it returns Unconfigured.
func New(ctx context.Context, cfg config.ObjectsConfig) (Store, error) {
	switch {
	case cfg.Endpoint != "":
		s, err := NewMinioStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case cfg.LocalDir != "":
		return NewDirStore(cfg.LocalDir)
	default:
		return Unconfigured{}, nil
	}
}

// ImageRef builds the object name for the n-th photo of an item.
func ImageRef(itemID string, n int, data []byte) string {
	ext := ".bin"
	switch http.DetectContentType(data) {
	case "image/jpeg":
		ext = ".jpg"
	case "image/png":
		ext = ".png"
	case "image/gif":
		ext = ".gif"
	}
	return fmt.Sprintf("%s/%d%s", itemID, n, ext)
}

// cleanRef rejects refs that are empty or escape the store root.
func cleanRef(ref string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(ref))[1:]
	if clean == "" || clean == "." {
		return "", fmt.Errorf("invalid image ref %q", ref)
	}
	return clean, nil
}

// Unconfigured fails every operation with ErrNotConfigured.
type Unconfigured struct{}

func (Unconfigured) Get(context.Context, string) ([]byte, error) { return nil, ErrNotConfigured }
func (Unconfigured) Put(context.Context, string, []byte) error { return ErrNotConfigured }
func (Unconfigured) Delete(context.Context, string) error { return ErrNotConfigured }
func (Unconfigured) Name() string { return "none" }
