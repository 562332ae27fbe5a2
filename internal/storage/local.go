package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// LocalRoute is the URL prefix under which the router serves Local files.
const LocalRoute = "/files"

// Local writes blobs to a directory and addresses them under BaseURL. The
// stored name is random; only the extension of the original name is kept.
type Local struct {
	Dir     string
	BaseURL string
}

// NewLocal creates dir if needed and returns a Local uploader.
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}
	return &Local{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// URLPrefix implements URLPrefixer.
func (l *Local) URLPrefix() string { return l.BaseURL + "/" }

var extRE = regexp.MustCompile(`^\.[A-Za-z0-9]{1,10}$`)

// Upload implements Uploader.
func (l *Local) Upload(ctx context.Context, name, _ string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !extRE.MatchString(ext) {
		ext = ""
	}
	stored := uuid.NewString() + ext

	f, err := os.CreateTemp(l.Dir, ".upload-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	_, err = io.Copy(f, readerWithContext{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, filepath.Join(l.Dir, stored)); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return l.BaseURL + "/" + stored, nil
}

// readerWithContext stops a copy once ctx is done.
type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (rc readerWithContext) Read(p []byte) (int, error) {
	if err := rc.ctx.Err(); err != nil {
		return 0, err
	}
	return rc.r.Read(p)
}
