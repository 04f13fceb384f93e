// Package lesson describes a lesson: its code blocks, the data files it
// needs and its optional quiz. Lessons are loaded from a YAML manifest or
// discovered from a lesson page's HTML.
package lesson

import (
	"errors"
	"fmt"
)

// DefaultDataDir is the directory remote files are written into.
const DefaultDataDir = "data"

var ErrInvalid = errors.New("invalid lesson")

// Category decides when a block runs and whether the learner can edit it.
type Category string

const (
	// Hidden blocks run first and are never displayed.
	Hidden Category = "hidden"
	// Fixed blocks run once, in order, and are displayed read-only.
	Fixed Category = "fixed"
	// Editable blocks run only when the learner triggers them.
	Editable Category = "editable"
)

func (c Category) Valid() bool {
	switch c {
	case Hidden, Fixed, Editable:
		return true
	}
	return false
}

type Block struct {
	ID       string   `yaml:"id" json:"id"`
	Category Category `yaml:"category" json:"category"`
	Source   string   `yaml:"source" json:"source"`
}

// OutputID names the output region paired with the block.
func (b Block) OutputID() string { return b.ID + "-output" }

// TriggerID names the control that runs an editable block.
func (b Block) TriggerID() string { return "run-" + b.ID }

// RemoteFile is a data file fetched before any block runs.
type RemoteFile struct {
	Filename string `yaml:"filename" json:"filename"`
	URL      string `yaml:"url" json:"url"`
}

type Option struct {
	Text    string `yaml:"text" json:"text"`
	Correct bool   `yaml:"correct" json:"correct"`
}

type Question struct {
	Prompt  string   `yaml:"prompt" json:"prompt"`
	Options []Option `yaml:"options" json:"options"`
}

// CorrectIndex returns the index of the correct option, or -1.
func (q Question) CorrectIndex() int {
	for i, o := range q.Options {
		if o.Correct {
			return i
		}
	}
	return -1
}

type Quiz struct {
	Questions []Question `yaml:"questions" json:"questions"`
}

type Lesson struct {
	Title    string       `yaml:"title" json:"title"`
	Module   string       `yaml:"module,omitempty" json:"module,omitempty"`
	Language string       `yaml:"language,omitempty" json:"language,omitempty"`
	DataDir  string       `yaml:"data_dir" json:"data_dir"`
	Files    []RemoteFile `yaml:"files,omitempty" json:"files,omitempty"`
	Blocks   []Block      `yaml:"blocks" json:"blocks"`
	Quiz     *Quiz        `yaml:"quiz,omitempty" json:"quiz,omitempty"`

	// Path is the file the lesson was loaded from, if any.
	Path string `yaml:"-" json:"-"`
}

// Block returns the block with the given id.
func (l *Lesson) Block(id string) (Block, bool) {
	for _, b := range l.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return Block{}, false
}

// ByCategory returns the blocks of one category in document order.
func (l *Lesson) ByCategory(c Category) []Block {
	var out []Block
	for _, b := range l.Blocks {
		if b.Category == c {
			out = append(out, b)
		}
	}
	return out
}

// normalize fills defaults and checks the lesson is usable. Blocks without
// an id are numbered by position.
func (l *Lesson) normalize() error {
	if l.DataDir == "" {
		l.DataDir = DefaultDataDir
	}

	seen := make(map[string]bool, len(l.Blocks))
	for i := range l.Blocks {
		b := &l.Blocks[i]
		if b.ID == "" {
			b.ID = fmt.Sprintf("block-%d", i+1)
		}
		if seen[b.ID] {
			return fmt.Errorf("%w: duplicate block id %q", ErrInvalid, b.ID)
		}
		seen[b.ID] = true
		if !b.Category.Valid() {
			return fmt.Errorf("%w: block %q: unknown category %q", ErrInvalid, b.ID, b.Category)
		}
	}

	for i, f := range l.Files {
		if f.Filename == "" || f.URL == "" {
			return fmt.Errorf("%w: file %d: filename and url required", ErrInvalid, i+1)
		}
	}

	if l.Quiz != nil {
		for i, q := range l.Quiz.Questions {
			correct := 0
			for _, o := range q.Options {
				if o.Correct {
					correct++
				}
			}
			if correct != 1 {
				return fmt.Errorf("%w: question %d: want exactly one correct option, got %d", ErrInvalid, i+1, correct)
			}
		}
	}
	return nil
}
