package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Question is a single analysis prompt applied to each transcript. FieldKey
// names the JSON field the model must answer under.
type Question struct {
	ID           string `yaml:"id"`
	Text         string `yaml:"text"`
	FieldKey     string `yaml:"field_key"`
	OutputFormat string `yaml:"output_format"`
	Active       bool   `yaml:"active"`
}

// Registry holds the analysis question set and the allowed call categories.
type Registry struct {
	Categories []string   `yaml:"categories"`
	Sentiments []string   `yaml:"sentiments"`
	Questions  []Question `yaml:"questions"`
}

// Default returns the built-in registry used when no questions.yaml exists.
func Default() *Registry {
	return &Registry{
		Categories: []string{
			"billing",
			"support",
			"sales",
			"complaint",
			"inquiry",
			"other",
		},
		Sentiments: []string{"positive", "neutral", "negative"},
		Questions: []Question{
			{ID: "summary", Text: "Summarize the call in two sentences.", FieldKey: "summary", OutputFormat: "text", Active: true},
			{ID: "action-items", Text: "List any follow-up actions promised to the caller.", FieldKey: "action_items", OutputFormat: "list", Active: true},
			{ID: "escalation", Text: "Did the caller ask for a manager or threaten to leave?", FieldKey: "escalation", OutputFormat: "boolean", Active: true},
			{ID: "root-cause", Text: "What was the underlying reason for the call?", FieldKey: "root_cause", OutputFormat: "text", Active: true},
		},
	}
}

// Load reads a question registry from a YAML file. A missing file falls back
// to the built-in default; a malformed file is an error.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			zap.L().Debug("registry: no question file, using defaults",
				zap.String("path", path),
			)
			return Default(), nil
		}
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, eris.Wrapf(err, "registry: parse %s", path)
	}

	if len(reg.Categories) == 0 {
		reg.Categories = Default().Categories
	}
	if len(reg.Sentiments) == 0 {
		reg.Sentiments = Default().Sentiments
	}
	if len(reg.Questions) == 0 {
		return nil, eris.Errorf("registry: %s defines no questions", path)
	}

	for i, q := range reg.Questions {
		if q.Text == "" {
			return nil, eris.Errorf("registry: question %d has no text", i)
		}
		if q.FieldKey == "" {
			return nil, eris.Errorf("registry: question %q has no field_key", q.ID)
		}
	}

	return &reg, nil
}

// ActiveQuestions returns the questions marked active, in file order.
func (r *Registry) ActiveQuestions() []Question {
	var out []Question
	for _, q := range r.Questions {
		if q.Active {
			out = append(out, q)
		}
	}
	return out
}

// ValidCategory reports whether the model answered with an allowed category.
func (r *Registry) ValidCategory(category string) bool {
	for _, c := range r.Categories {
		if c == category {
			return true
		}
	}
	return false
}
