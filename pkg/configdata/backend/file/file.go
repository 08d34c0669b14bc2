// Package file serves configuration imports from local YAML, JSON or TOML
// files. Keys are lower-cased on read.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/security"
)

// Scheme is the locator scheme this backend is registered under.
const Scheme = "file"

// Backend reads configuration files. It implements configdata.Backend.
type Backend struct {
	baseDir string
}

// New returns a Backend. A non-empty baseDir confines relative and absolute
// locator paths to that directory; relative paths are resolved against it.
func New(baseDir string) *Backend {
	return &Backend{baseDir: baseDir}
}

// Fetch reads and decodes the file at path. The format follows the extension.
func (b *Backend) Fetch(ctx context.Context, path string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := security.ValidateFilePath(path, b.baseDir); err != nil {
		return nil, fmt.Errorf("file: %s: %w", path, err)
	}

	full := path
	if b.baseDir != "" && !filepath.IsAbs(path) {
		full = filepath.Join(b.baseDir, path)
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file: %s: %w", path, configdata.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("file: %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("file: %s is a directory", path)
	}

	v := viper.New()
	v.SetConfigFile(full)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("file: read %s: %w", path, err)
	}
	return v.AllSettings(), nil
}
