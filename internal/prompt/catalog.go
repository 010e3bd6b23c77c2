package prompt

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Task names one of the generation prompts.
type Task string

const (
	TaskPersona  Task = "persona"
	TaskFeedback Task = "feedback"
	TaskAnalysis Task = "analysis"
)

//go:embed templates/prompts.yaml
var defaultTemplates []byte

// Template is the raw system and user text of one task.
type Template struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Prompt is a rendered template ready to send to a model.
type Prompt struct {
	System string
	User   string
}

// Catalog holds the templates of every task.
type Catalog struct {
	templates map[Task]Template
}

// DefaultCatalog parses the embedded templates.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultTemplates)
}

// ParseCatalog parses a YAML document mapping task names to templates.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw map[Task]Template
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	for _, task := range []Task{TaskPersona, TaskFeedback, TaskAnalysis} {
		tmpl, ok := raw[task]
		if !ok || tmpl.User == "" {
			return nil, fmt.Errorf("prompt template %q missing user text", task)
		}
	}
	return &Catalog{templates: raw}, nil
}

// Render fills the task's templates with params.
func (c *Catalog) Render(task Task, params map[string]string) (Prompt, error) {
	tmpl, ok := c.templates[task]
	if !ok {
		return Prompt{}, fmt.Errorf("unknown prompt task %q", task)
	}
	return Prompt{
		System: ReplacePromptParams(tmpl.System, params),
		User:   ReplacePromptParams(tmpl.User, params),
	}, nil
}
