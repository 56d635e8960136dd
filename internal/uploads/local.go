package uploads

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/boostgram/backend/internal/errs"
)

// Local writes attachments under Dir; the router serves that directory
// at /uploads. Dev mode only.
type Local struct {
	Dir string
}

func (u *Local) Upload(ctx context.Context, name, contentType string, size int64, r io.Reader) (*Attachment, error) {
	kind, err := validate(name, contentType, size)
	if err != nil {
		return nil, err
	}

	key := objectKey(name)
	path := filepath.Join(u.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Transient("create upload dir", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errs.Transient("create upload file", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, io.LimitReader(r, MaxSizeBytes)); err != nil {
		os.Remove(path)
		return nil, errs.Transient("write upload", err)
	}

	return &Attachment{
		URL:  "/uploads/" + key,
		Type: kind,
		Name: filepath.Base(name),
	}, nil
}
