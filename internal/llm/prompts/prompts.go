package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/mockexam/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)

// Style selects how much detail an explanation carries.
type Style string

const (
	// StyleBrief gives a short justification of the correct answer.
	StyleBrief Style = "brief"
	// StyleDetailed discusses every option.
	StyleDetailed Style = "detailed"
)

var validStyles = map[Style]bool{
	StyleBrief:    true,
	StyleDetailed: true,
}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Style]*template.Template
)

// IsValidStyle checks if a style name is valid.
func IsValidStyle(s string) bool {
	return validStyles[Style(s)]
}

// ExplainData holds template data for explanation prompts.
type ExplainData struct {
	QuestionText string
	Options      []string
	Correct      string
	Selected     string
	Points       int
	MaxPoints    int
	Multiple     bool
}

// Load parses the embedded templates once.
func Load() error {
	loadOnce.Do(func() {
		templates = make(map[Style]*template.Template)
		for s := range validStyles {
			name := "templates/explain_" + string(s) + ".txt"
			content, err := templateFS.ReadFile(name)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", name, err)
				return
			}
			tmpl, err := template.New(string(s)).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", name, err)
				return
			}
			templates[s] = tmpl
		}
	})
	return loadErr
}

// BuildExplainPrompt renders the prompt asking why q's correct answer is right.
func BuildExplainPrompt(style Style, q model.Question, sel model.Selection, points int) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}
	tmpl, ok := templates[style]
	if !ok {
		return "", errors.New("invalid explanation style: " + string(style))
	}

	data := ExplainData{
		QuestionText: sanitize(q.Text),
		Correct:      joinLabels(q.Correct),
		Selected:     joinLabels(sel),
		Points:       points,
		MaxPoints:    q.Type.MaxPoints(),
		Multiple:     q.Type == model.TypeMultipleChoice,
	}
	for _, o := range q.Options {
		data.Options = append(data.Options, fmt.Sprintf("%s. %s", o.Label, sanitize(o.Text)))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func joinLabels(labels []model.Label) string {
	if len(labels) == 0 {
		return "(none)"
	}
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = string(l)
	}
	return strings.Join(parts, ", ")
}

// sanitize strips instruction tags from bank text and caps its length.
func sanitize(text string) string {
	text = systemInstructionsRegex.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > 2000 {
		runes := []rune(text)
		text = string(runes[:2000]) + " [truncated]"
	}
	return text
}
