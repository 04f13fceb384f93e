package lesson

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML manifest. Unknown keys are rejected.
func Parse(data []byte) (*Lesson, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var l Lesson
	if err := dec.Decode(&l); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty manifest", ErrInvalid)
		}
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := l.normalize(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Load reads a lesson from path. Files ending in .html or .htm are
// discovered from the page markup; everything else is a YAML manifest.
func Load(path string) (*Lesson, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lesson: %w", err)
	}

	var l *Lesson
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		l, err = ParseHTML(bytes.NewReader(data))
	default:
		l, err = Parse(data)
	}
	if err != nil {
		return nil, err
	}
	l.Path = path
	return l, nil
}

// Marshal encodes the lesson as a YAML manifest.
func Marshal(l *Lesson) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(l); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}
