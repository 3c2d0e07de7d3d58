// Package blob stores uploaded invoice images and returns a URL for them.
package blob

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Key builds a date-partitioned object key that keeps the original
// extension.
func Key(prefix, filename string, now time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	return path.Join(prefix, now.UTC().Format("2006/01/02"), uuid.NewString()+ext)
}

// Local writes objects under a directory. Used in development and tests.
type Local struct {
	Dir     string
	BaseURL string
}

func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob dir: %w", err)
	}
	return &Local{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *Local) Upload(ctx context.Context, key string, body []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := path.Clean("/" + key)[1:]
	full := filepath.Join(l.Dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("blob upload %s: %w", key, err)
	}
	if err := os.WriteFile(full, body, 0o644); err != nil {
		return "", fmt.Errorf("blob upload %s: %w", key, err)
	}
	if l.BaseURL == "" {
		return "file://" + filepath.ToSlash(full), nil
	}
	return l.BaseURL + "/" + clean, nil
}
