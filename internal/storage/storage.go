// Package storage implements the attachment store: an opaque upload service
// that turns a binary blob into a stable URL. Two backends are provided,
// Cloudinary for deployments and the local filesystem for development.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/tbourn/study-assistant/internal/config"
)

// Uploader stores r and returns a URL from which it can later be fetched.
// The URL is opaque to callers.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

// New builds the uploader selected by cfg.Provider.
func New(cfg config.UploadConfig) (Uploader, error) {
	switch cfg.Provider {
	case "cloudinary":
		return NewCloudinary(cfg)
	case "local", "":
		return NewLocal(cfg.Dir, cfg.PublicBaseURL+LocalRoute)
	default:
		return nil, fmt.Errorf("unknown upload provider %q", cfg.Provider)
	}
}
