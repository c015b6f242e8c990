package tokenstore

import (
	"os"
	"path/filepath"
	"strings"
)

// File stores the token in a 0600 file, the same way the CLI keeps its
// config on disk.
type File struct {
	Path string
}

// NewFile creates a file-backed store at path.
func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) Load() (string, bool, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	token := strings.TrimSpace(string(data))
	return token, token != "", nil
}

func (f *File) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(f.Path, []byte(token+"\n"), 0o600)
}

func (f *File) Remove() error {
	err := os.Remove(f.Path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
