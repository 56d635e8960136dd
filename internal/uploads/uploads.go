// Package uploads stores message attachments and hands back the URL the
// message row carries. Two backends: S3 for production, local disk for
// dev mode.
package uploads

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/boostgram/backend/internal/errs"
	"github.com/boostgram/backend/internal/models"
)

type Attachment struct {
	URL  string                `json:"url"`
	Type models.AttachmentType `json:"type"`
	Name string                `json:"name"`
}

type Uploader interface {
	Upload(ctx context.Context, name, contentType string, size int64, r io.Reader) (*Attachment, error)
}

const MaxSizeBytes = 20 << 20

var allowedTypes = map[string]models.AttachmentType{
	"image/jpeg":         models.AttachmentImage,
	"image/png":          models.AttachmentImage,
	"image/gif":          models.AttachmentImage,
	"image/webp":         models.AttachmentImage,
	"application/pdf":    models.AttachmentFile,
	"text/plain":         models.AttachmentFile,
	"application/zip":    models.AttachmentFile,
	"application/x-zip-compressed": models.AttachmentFile,
}

// validate rejects oversized or unsupported files before any bytes are
// written to the backend.
func validate(name, contentType string, size int64) (models.AttachmentType, error) {
	if size <= 0 {
		return "", errs.Validation("attachment is empty")
	}
	if size > MaxSizeBytes {
		return "", errs.Validation("attachment exceeds the %d MB limit", MaxSizeBytes>>20)
	}
	kind, ok := allowedTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", errs.Validation("unsupported attachment type %q", contentType)
	}
	if strings.TrimSpace(name) == "" {
		return "", errs.Validation("attachment name is required")
	}
	return kind, nil
}

// objectKey namespaces uploads by date and prefixes a random id so two
// files with the same name never collide.
func objectKey(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	return fmt.Sprintf("attachments/%s/%s-%s", time.Now().UTC().Format("2006/01/02"), uuid.NewString()[:8], base)
}
