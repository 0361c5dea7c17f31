// Package archive stores rendered reports outside the service, either in a
// local directory or in an S3-compatible bucket.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Archiver interface {
	// Store saves body under name and returns where it ended up.
	Store(ctx context.Context, name, contentType string, body []byte) (string, error)
}

type Config struct {
	Driver string   `mapstructure:"driver"`
	Dir    string   `mapstructure:"dir"`
	S3     S3Config `mapstructure:"s3"`
}

// New returns the archiver selected by cfg.Driver ("dir" or "s3").
func New(ctx context.Context, cfg Config) (Archiver, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "dir":
		return NewDir(cfg.Dir)
	case "s3":
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}

type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	if root == "" {
		root = "reports"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Store(ctx context.Context, name, _ string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) {
		return "", errors.New("archive name must be a plain file name")
	}
	path := filepath.Join(d.root, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
