package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/study-assistant/internal/domain"
)

// UploadResponse describes a stored attachment. It can be sent back as-is
// inside a message's attachments.
type UploadResponse struct {
	URL  string `json:"url" example:"https://res.cloudinary.com/demo/image/upload/v1/study-assistant/x.png"`
	Name string `json:"name" example:"diagram.png"`
	Type string `json:"type" example:"image"`
}

// Upload godoc
// @ID          upload
// @Summary     Upload an attachment
// @Description Stores a single file from the multipart field "file" and returns its URL. Images are typed "image", everything else "document".
// @Tags        Uploads
// @Accept      mpfd
// @Produce     json
// @Param       file  formData  file  true  "File to upload"
// @Success     200  {object}  handlers.UploadResponse
// @Failure     400  {object}  handlers.ErrorResponse  "No file provided or file too large"
// @Failure     401  {object}  handlers.ErrorResponse  "Authentication required"
// @Failure     500  {object}  handlers.ErrorResponse  "Upload failed"
// @Router      /upload [post]
func (h *Handlers) Upload(c *gin.Context) {
	if _, authed := currentUser(c); !authed {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no file provided")
		return
	}
	if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file too large")
		return
	}

	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable file")
		return
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	att, err := h.attach.Upload(c.Request.Context(), fh.Filename, contentType, f)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, toUploadResponse(att))
}

func toUploadResponse(a domain.Attachment) UploadResponse {
	return UploadResponse{URL: a.URL, Name: a.Name, Type: a.Type}
}
