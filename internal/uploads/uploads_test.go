package uploads

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/boostgram/backend/internal/errs"
	"github.com/boostgram/backend/internal/models"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name        string
		fileName    string
		contentType string
		size        int64
		wantKind    models.AttachmentType
		wantErr     bool
	}{
		{"jpeg image", "photo.jpg", "image/jpeg", 1024, models.AttachmentImage, false},
		{"pdf file", "invoice.pdf", "application/pdf", 1024, models.AttachmentFile, false},
		{"mixed case type", "photo.png", "IMAGE/PNG", 1024, models.AttachmentImage, false},
		{"empty file", "a.png", "image/png", 0, "", true},
		{"oversized", "big.png", "image/png", MaxSizeBytes + 1, "", true},
		{"executable", "virus.exe", "application/x-msdownload", 1024, "", true},
		{"blank name", "  ", "image/png", 1024, "", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			kind, err := validate(c.fileName, c.contentType, c.size)
			if c.wantErr {
				if !errs.IsValidation(err) {
					t.Fatalf("want ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if kind != c.wantKind {
				t.Fatalf("kind = %s, want %s", kind, c.wantKind)
			}
		})
	}
}

func TestLocalUpload(t *testing.T) {
	dir := t.TempDir()
	u := &Local{Dir: dir}

	att, err := u.Upload(context.Background(), "receipt.pdf", "application/pdf", 11, strings.NewReader("hello world"))
	if err != nil {
		t.Fatal(err)
	}
	if att.Type != models.AttachmentFile || att.Name != "receipt.pdf" {
		t.Fatalf("attachment = %+v", att)
	}
	if !strings.HasPrefix(att.URL, "/uploads/attachments/") {
		t.Fatalf("unexpected URL %s", att.URL)
	}

	rel := strings.TrimPrefix(att.URL, "/uploads/")
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Fatalf("stored content = %q", data)
	}
}

func TestObjectKeyUniqueness(t *testing.T) {
	a := objectKey("report.pdf")
	b := objectKey("report.pdf")
	if a == b {
		t.Fatalf("same key for two uploads: %s", a)
	}
	if !strings.HasSuffix(a, "report.pdf") {
		t.Fatalf("original name lost: %s", a)
	}
}
