package config

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Model is one entry of the advertised model catalog.
type Model struct {
	ID      string `yaml:"id"`
	OwnedBy string `yaml:"owned_by"`
}

//go:embed models.yaml
var modelsYAML []byte

// Catalog returns the built-in model catalog. Entries without an explicit
// owner fall back to the name heuristic.
func Catalog() ([]Model, error) {
	var doc struct {
		Models []Model `yaml:"models"`
	}
	if err := yaml.Unmarshal(modelsYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse embedded model catalog: %w", err)
	}
	for i := range doc.Models {
		if doc.Models[i].OwnedBy == "" {
			doc.Models[i].OwnedBy = OwnerOf(doc.Models[i].ID)
		}
	}
	return doc.Models, nil
}

// OwnerOf infers the owned_by value from a model name.
func OwnerOf(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "openai"
	case strings.Contains(m, "claude"):
		return "anthropic"
	case strings.Contains(m, "gemini"):
		return "google"
	case strings.Contains(m, "grok"):
		return "xai"
	default:
		return "cursor"
	}
}
