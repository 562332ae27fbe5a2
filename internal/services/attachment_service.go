package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/study-assistant/internal/domain"
	"github.com/tbourn/study-assistant/internal/observability"
	"github.com/tbourn/study-assistant/internal/storage"
)

// AttachmentService hands uploaded files to the attachment store and
// describes the result as a message attachment.
type AttachmentService struct {
	Store   storage.Uploader
	Timeout time.Duration
}

// NewAttachmentService constructs an AttachmentService.
func NewAttachmentService(store storage.Uploader, timeout time.Duration) *AttachmentService {
	return &AttachmentService{Store: store, Timeout: timeout}
}

// AttachmentKind classifies a MIME type: image/* is an image, anything else
// a document.
func AttachmentKind(contentType string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return domain.AttachmentImage
	}
	return domain.AttachmentDocument
}

// Upload stores r and returns the attachment that references it.
func (s *AttachmentService) Upload(ctx context.Context, name, contentType string, r io.Reader) (domain.Attachment, error) {
	kind := AttachmentKind(contentType)
	ctx, span := otel.Tracer("services/AttachmentService").Start(ctx, "Upload", trace.WithAttributes(
		attribute.String("attachment.kind", kind),
		attribute.String("attachment.content_type", contentType),
	))
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" || r == nil {
		return domain.Attachment{}, fmt.Errorf("%w: file is required", ErrInvalidInput)
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	url, err := s.Store.Upload(ctx, name, contentType, r)
	if err != nil {
		observability.RecordUpload(kind, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		log.Ctx(ctx).Warn().Err(err).Str("name", name).Msg("attachment upload failed")
		return domain.Attachment{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	observability.RecordUpload(kind, "ok")
	return domain.Attachment{Type: kind, URL: url, Name: name}, nil
}
