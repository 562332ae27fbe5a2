package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/tbourn/study-assistant/internal/config"
)

// cloudinaryAPI is the subset of the Cloudinary upload API we call.
type cloudinaryAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

// Cloudinary uploads blobs to a Cloudinary folder with automatic resource
// type detection, so images and documents share one code path.
type Cloudinary struct {
	api    cloudinaryAPI
	folder string
	prefix string
}

// deliveryHost serves every Cloudinary asset.
const deliveryHost = "https://res.cloudinary.com/"

// NewCloudinary builds the uploader from CLOUDINARY_URL or from the
// individual cloud name / key / secret settings.
func NewCloudinary(cfg config.UploadConfig) (*Cloudinary, error) {
	var (
		cld *cloudinary.Cloudinary
		err error
	)
	if cfg.CloudinaryURL != "" {
		cld, err = cloudinary.NewFromURL(cfg.CloudinaryURL)
	} else {
		cld, err = cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	}
	if err != nil {
		return nil, fmt.Errorf("cloudinary: %w", err)
	}
	return &Cloudinary{
		api:    &cld.Upload,
		folder: cfg.Folder,
		prefix: deliveryHost + cld.Config.Cloud.CloudName + "/",
	}, nil
}

// URLPrefix implements URLPrefixer: assets of this cloud only.
func (c *Cloudinary) URLPrefix() string { return c.prefix }

// Upload implements Uploader and returns the asset's secure URL.
func (c *Cloudinary) Upload(ctx context.Context, name, _ string, r io.Reader) (string, error) {
	res, err := c.api.Upload(ctx, r, uploader.UploadParams{
		Folder:       c.folder,
		ResourceType: "auto",
	})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload %q: %w", name, err)
	}
	if res == nil {
		return "", errors.New("cloudinary upload: empty result")
	}
	if res.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload %q: %s", name, res.Error.Message)
	}
	if res.SecureURL == "" {
		return "", fmt.Errorf("cloudinary upload %q: no url returned", name)
	}
	return res.SecureURL, nil
}
