package lesson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"gopkg.in/yaml.v3"
)

// Page markup conventions.
const (
	classHidden   = "hidden-code"
	classFixed    = "code-fixed"
	classEditable = "code-editor"
	classTitle    = "page-title"
	classQuestion = "quiz-question"
	classOption   = "quiz-option"
	classPrompt   = "question-text"
	filesScriptID = "lesson-files"
	filesGlobal   = "LESSON_FILES"
	languageMeta  = "lesson-language"
)

// ParseHTML discovers a lesson from page markup. Code blocks are the
// textarea elements inside hidden-code, code-fixed and code-editor
// containers, in document order.
func ParseHTML(r io.Reader) (*Lesson, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var l Lesson
	var quiz Quiz
	var walkErr error

	var walk func(n *html.Node, category Category)
	walk = func(n *html.Node, category Category) {
		if walkErr != nil {
			return
		}
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.Textarea && category != "":
				l.Blocks = append(l.Blocks, Block{
					ID:       attr(n, "id"),
					Category: category,
					Source:   textContent(n),
				})
				return
			case n.DataAtom == atom.Script && attr(n, "id") == filesScriptID:
				if err := json.Unmarshal([]byte(textContent(n)), &l.Files); err != nil {
					walkErr = fmt.Errorf("%w: lesson files: %w", ErrInvalid, err)
				}
				return
			case n.DataAtom == atom.Script && strings.Contains(textContent(n), filesGlobal):
				files, err := parseFilesGlobal(textContent(n))
				if err != nil {
					walkErr = fmt.Errorf("%w: %s: %w", ErrInvalid, filesGlobal, err)
				}
				l.Files = append(l.Files, files...)
				return
			case n.DataAtom == atom.Meta && attr(n, "name") == languageMeta:
				l.Language = attr(n, "content")
			case hasClass(n, classTitle) && l.Title == "":
				l.Title = strings.TrimSpace(textContent(n))
			case hasClass(n, classQuestion):
				quiz.Questions = append(quiz.Questions, parseQuestion(n))
				return
			}

			switch {
			case hasClass(n, classHidden):
				category = Hidden
			case hasClass(n, classFixed):
				category = Fixed
			case hasClass(n, classEditable):
				category = Editable
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, category)
		}
	}
	walk(doc, "")
	if walkErr != nil {
		return nil, walkErr
	}

	if len(quiz.Questions) > 0 {
		l.Quiz = &quiz
	}
	if err := l.normalize(); err != nil {
		return nil, err
	}
	return &l, nil
}

// parseFilesGlobal reads the array literal assigned to LESSON_FILES in a
// script, such as window.LESSON_FILES = [{filename: "a.csv", url: "..."}].
// The literal is decoded as a YAML flow sequence, so keys may be unquoted.
func parseFilesGlobal(script string) ([]RemoteFile, error) {
	i := strings.Index(script, filesGlobal)
	rest := strings.TrimSpace(script[i+len(filesGlobal):])
	if !strings.HasPrefix(rest, "=") || strings.HasPrefix(rest, "==") {
		return nil, nil
	}
	rest = strings.TrimSpace(rest[1:])
	if !strings.HasPrefix(rest, "[") {
		return nil, errors.New("not an array literal")
	}
	end := closingBracket(rest)
	if end < 0 {
		return nil, errors.New("unterminated array literal")
	}

	var files []RemoteFile
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &files); err != nil {
		return nil, err
	}
	return files, nil
}

// closingBracket returns the index of the bracket closing s[0], skipping
// quoted strings, or -1.
func closingBracket(s string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parseQuestion(n *html.Node) Question {
	var q Question
	var heading string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, classOption):
				q.Options = append(q.Options, Option{
					Text:    strings.TrimSpace(textContent(n)),
					Correct: attr(n, "data-correct") == "true",
				})
				return
			case hasClass(n, classPrompt):
				q.Prompt = strings.TrimSpace(textContent(n))
				return
			case heading == "" && isHeading(n.DataAtom):
				heading = strings.TrimSpace(textContent(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	if q.Prompt == "" {
		q.Prompt = heading
	}
	return q
}

func isHeading(a atom.Atom) bool {
	switch a {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return true
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
