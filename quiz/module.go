package quiz

import (
	"strings"

	"github.com/caffeineduck/lessonbox/lesson"
)

// UnknownModule names results whose lesson could not be identified.
const UnknownModule = "Unknown Module"

// moduleKeywords maps lesson path fragments to module names, checked in order.
var moduleKeywords = []struct {
	keyword string
	name    string
}{
	{"ethics-ai", "AI Ethics"},
	{"intro_to_ai", "AI Overview"},
	{"overview_azure", "Overview of Azure AI"},
	{"virtual_machines", "Virtual Machines"},
	{"ml_studio", "ML Studio"},
	{"custom_vision", "Custom Vision"},
	{"ai-foundry", "AI Foundry"},
}

// ModuleName derives the module a quiz belongs to: the page title when
// present, else a keyword found in the lesson path.
func ModuleName(title, path string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	for _, k := range moduleKeywords {
		if strings.Contains(path, k.keyword) {
			return k.name
		}
	}
	return UnknownModule
}

// ModuleOf returns the lesson's explicit module, falling back to ModuleName.
func ModuleOf(l *lesson.Lesson) string {
	if m := strings.TrimSpace(l.Module); m != "" {
		return m
	}
	return ModuleName(l.Title, l.Path)
}
