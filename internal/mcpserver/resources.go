package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/common/logger"
)

var errSkillNotFound = errors.New("skill not found")

// skillRecord is the slice of a skill the resources and prompt render.
type skillRecord struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Body          string   `json:"body"`
	Compatibility string   `json:"compatibility"`
	AllowedTools  []string `json:"allowed_tools"`
}

func registerSkillResources(s *server.MCPServer, cfg Config, log *logger.Logger) {
	s.AddResourceTemplate(
		mcp.NewResourceTemplate("skill://{name}/instructions", "Skill instructions",
			mcp.WithTemplateDescription("The SKILL.md body with detailed usage instructions for a skill."),
			mcp.WithTemplateMIMEType("text/markdown"),
		),
		skillInstructionsHandler(cfg, log),
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate("skill://{name}/file/{+path}", "Skill file",
			mcp.WithTemplateDescription("A file bundled with a skill (scripts, references, assets)."),
		),
		skillFileHandler(cfg, log),
	)

	log.Info("registered MCP resources", zap.Int("count", 2))
}

func registerPrompts(s *server.MCPServer, cfg Config, log *logger.Logger) {
	s.AddPrompt(
		mcp.NewPrompt("activate_skill",
			mcp.WithPromptDescription("Generate instructions for activating and using a specific skill."),
			mcp.WithArgument("skill_name",
				mcp.ArgumentDescription("Name of the skill to activate."),
				mcp.RequiredArgument(),
			),
		),
		activateSkillPrompt(cfg, log),
	)

	log.Info("registered MCP prompts", zap.Int("count", 1))
}

// parseSkillURI splits skill://{name}/instructions and
// skill://{name}/file/{path} URIs into their parts.
func parseSkillURI(uri string) (name, filePath string, err error) {
	rest, ok := strings.CutPrefix(uri, "skill://")
	if !ok {
		return "", "", fmt.Errorf("unsupported resource URI %q", uri)
	}
	name, tail, ok := strings.Cut(rest, "/")
	if !ok || name == "" {
		return "", "", fmt.Errorf("unsupported resource URI %q", uri)
	}

	switch {
	case tail == "instructions":
		return name, "", nil
	case strings.HasPrefix(tail, "file/") && len(tail) > len("file/"):
		return name, strings.TrimPrefix(tail, "file/"), nil
	}
	return "", "", fmt.Errorf("unsupported resource URI %q", uri)
}

func fetchSkillByName(ctx context.Context, cfg Config, name string) (*skillRecord, error) {
	raw, status, err := apiJSON(ctx, cfg, http.MethodGet, "/api/v1/skills/by-name/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch skill: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %q", errSkillNotFound, name)
	}
	if status >= 400 {
		return nil, fmt.Errorf("API error (%d): %s", status, string(raw))
	}

	var skill skillRecord
	if err := json.Unmarshal(raw, &skill); err != nil {
		return nil, fmt.Errorf("failed to parse skill: %w", err)
	}
	return &skill, nil
}

// skillInstructionsHandler serves skill://{name}/instructions, the full
// SKILL.md body of the named skill.
func skillInstructionsHandler(cfg Config, log *logger.Logger) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		name, _, err := parseSkillURI(req.Params.URI)
		if err != nil {
			return nil, err
		}

		skill, err := fetchSkillByName(ctx, cfg, name)
		if err != nil {
			log.Error("failed to read skill instructions", zap.String("skill", name), zap.Error(err))
			return nil, err
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/markdown",
				Text:     skill.Body,
			},
		}, nil
	}
}

// skillFileHandler serves skill://{name}/file/{path}, the raw bytes of a file
// bundled with the named skill.
func skillFileHandler(cfg Config, log *logger.Logger) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		name, filePath, err := parseSkillURI(req.Params.URI)
		if err != nil {
			return nil, err
		}
		if filePath == "" {
			return nil, fmt.Errorf("unsupported resource URI %q", req.Params.URI)
		}

		skill, err := fetchSkillByName(ctx, cfg, name)
		if err != nil {
			log.Error("failed to read skill file", zap.String("skill", name), zap.Error(err))
			return nil, err
		}

		resp, err := apiRequest(ctx, cfg, http.MethodGet, fmt.Sprintf("/api/v1/skills/%d/files/%s", skill.ID, filePath), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch skill file: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read skill file: %w", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("file %q not found for skill %q", filePath, name)
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(data))
		}

		return []mcp.ResourceContents{
			mcp.BlobResourceContents{
				URI:      req.Params.URI,
				MIMEType: resp.Header.Get("Content-Type"),
				Blob:     base64.StdEncoding.EncodeToString(data),
			},
		}, nil
	}
}

// activateSkillPrompt renders a skill as an activation prompt: description,
// compatibility, allowed tools, and the SKILL.md instructions.
func activateSkillPrompt(cfg Config, log *logger.Logger) server.PromptHandlerFunc {
	return func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		name := req.Params.Arguments["skill_name"]
		if name == "" {
			return nil, fmt.Errorf("skill_name is required")
		}

		skill, err := fetchSkillByName(ctx, cfg, name)
		if err != nil {
			if !errors.Is(err, errSkillNotFound) {
				log.Error("failed to activate skill", zap.String("skill", name), zap.Error(err))
				return nil, err
			}
			text := fmt.Sprintf("Error: Skill '%s' not found. Use search_skills to find available skills.", name)
			return mcp.NewGetPromptResult("Skill activation", []mcp.PromptMessage{
				mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
			}), nil
		}

		parts := []string{fmt.Sprintf("# Skill: %s", skill.Name), "", "## Description", skill.Description, ""}
		if skill.Compatibility != "" {
			parts = append(parts, "## Compatibility", skill.Compatibility, "")
		}
		if len(skill.AllowedTools) > 0 {
			parts = append(parts, "## Allowed Tools", strings.Join(skill.AllowedTools, ", "), "")
		}
		if skill.Body != "" {
			parts = append(parts, "## Instructions", skill.Body, "")
		}
		parts = append(parts, "---", "You are now operating with this skill activated. Follow the instructions above.")

		return mcp.NewGetPromptResult("Skill activation", []mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(strings.Join(parts, "\n"))),
		}), nil
	}
}
