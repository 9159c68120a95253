package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed files
var content embed.FS

const root = "files"

// Default file names inside the config directory.
const (
	DatatypesFile   = "datatypes.yaml"
	DecodersDir     = "decoders"
	DefaultDecoder  = "cayenne.js"
	dirPermissions  = 0o750
	filePermissions = 0o640
)

// ErrInstall is returned when default files cannot be provisioned.
var ErrInstall = errors.New("templates: install failed")

// ReadFile returns an embedded default file by its path relative to the
// template root, e.g. "datatypes.yaml" or "decoders/cayenne.js".
func ReadFile(name string) ([]byte, error) {
	return content.ReadFile(root + "/" + filepath.ToSlash(name))
}

// Install copies the embedded defaults into dir, recursively. Files that
// already exist are left as they are.
//
// Returns:
//   - []string: paths of the files written
//   - error: wrapped ErrInstall on failure
func Install(dir string) ([]string, error) {
	sub, err := fs.Sub(content, root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstall, err)
	}
	return installFS(sub, dir)
}

func installFS(src fs.FS, dir string) ([]string, error) {
	var written []string
	err := fs.WalkDir(src, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(target, dirPermissions)
		}

		data, err := fs.ReadFile(src, path)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePermissions)
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			f.Close() //nolint:errcheck // write error takes precedence
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		written = append(written, target)
		return nil
	})
	if err != nil {
		return written, fmt.Errorf("%w: %w", ErrInstall, err)
	}
	return written, nil
}
