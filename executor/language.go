package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Language defines a WASM guest interpreter that speaks the guest protocol:
// it reads JSON commands from stdin, writes program output to stdout, and
// reports readiness, results and host calls as framed messages on stderr.
type Language interface {
	// Name returns a unique identifier for this language.
	// Used as the cache key for compiled modules.
	Name() string

	// Module returns the WASM binary for the language interpreter.
	Module() []byte

	// Args returns the command-line arguments passed to the guest.
	Args() []string
}

// FileLanguage is a guest interpreter loaded from a .wasm file.
type FileLanguage struct {
	name   string
	module []byte
	args   []string
}

// LoadLanguage reads a guest interpreter from path. The name defaults to the
// file's base name without extension.
func LoadLanguage(path, name string, args ...string) (*FileLanguage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load wasm guest: %w", err)
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if len(args) == 0 {
		args = []string{name}
	}
	return &FileLanguage{name: name, module: data, args: args}, nil
}

func (l *FileLanguage) Name() string   { return l.name }
func (l *FileLanguage) Module() []byte { return l.module }
func (l *FileLanguage) Args() []string { return l.args }
