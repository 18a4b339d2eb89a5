// Package templates serves the catalog of pre-built agent images users can
// spawn without writing a spawn config by hand. The catalog comes from a YAML
// file when one is configured, otherwise from the built-in list.
package templates

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lunarr-ai/a4s/internal/common/logger"
)

// TemplateAgent is one pre-configured agent image.
type TemplateAgent struct {
	TemplateID     string   `json:"template_id" yaml:"template_id"`
	ImageName      string   `json:"image_name" yaml:"image_name"`
	Version        string   `json:"version" yaml:"version"`
	Description    string   `json:"description" yaml:"description"`
	AvailableTools []string `json:"available_tools" yaml:"available_tools"`
	Tags           []string `json:"tags" yaml:"tags"`
}

// Catalog is an immutable set of template agents loaded at startup.
type Catalog struct {
	templates []TemplateAgent
}

// catalogFile is the YAML document shape.
type catalogFile struct {
	Templates []TemplateAgent `yaml:"templates"`
}

// Load reads the catalog from the YAML file at path. An empty path or a
// missing file yields the built-in catalog; a file that exists but cannot be
// parsed or validated is an error so a broken deployment fails at startup.
func Load(path string, log *logger.Logger) (*Catalog, error) {
	if path == "" {
		return &Catalog{templates: builtinTemplates()}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Template catalog file absent, using built-in catalog",
				zap.String("path", path))
			return &Catalog{templates: builtinTemplates()}, nil
		}
		return nil, fmt.Errorf("failed to read template catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog %s: %w", path, err)
	}
	for i, tpl := range file.Templates {
		if tpl.TemplateID == "" || tpl.ImageName == "" {
			return nil, fmt.Errorf("template catalog %s: entry %d needs template_id and image_name", path, i)
		}
	}

	log.Info("Template catalog loaded",
		zap.String("path", path),
		zap.Int("templates", len(file.Templates)))
	return &Catalog{templates: file.Templates}, nil
}

// List returns the templates in catalog order.
func (c *Catalog) List() []TemplateAgent {
	out := make([]TemplateAgent, len(c.templates))
	copy(out, c.templates)
	return out
}

// builtinTemplates is the catalog shipped with the platform images.
func builtinTemplates() []TemplateAgent {
	return []TemplateAgent{
		{
			TemplateID:  "personal-assistant",
			ImageName:   "a4s-personal-assistant:latest",
			Version:     "1.0.0",
			Description: "Personal AI companion that learns from conversations and builds a knowledge graph of people, projects, preferences, and context.",
			AvailableTools: []string{
				"google_search",
				"linear_mcp_server",
				"github_mcp_server",
			},
			Tags: []string{"personal-assistant", "memory", "knowledge-graph", "learning"},
		},
	}
}
