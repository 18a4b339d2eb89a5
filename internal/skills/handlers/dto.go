package handlers

import (
	"github.com/lunarr-ai/a4s/internal/skills"
)

// RegisterSkillRequest is the body for POST /skills. File content rides as
// base64, the JSON encoding of Go byte slices.
type RegisterSkillRequest struct {
	Name          string             `json:"name" binding:"required"`
	Description   string             `json:"description" binding:"required"`
	Body          string             `json:"body"`
	License       string             `json:"license"`
	Compatibility string             `json:"compatibility"`
	Metadata      map[string]string  `json:"metadata"`
	AllowedTools  []string           `json:"allowed_tools"`
	Files         []SkillFilePayload `json:"files"`
}

// SkillFilePayload is one bundled file in a register request.
type SkillFilePayload struct {
	Path    string `json:"path" binding:"required"`
	Content []byte `json:"content"`
}

// SkillListResponse is a page of skills ordered by name. Total counts every
// registered skill, not just the page.
type SkillListResponse struct {
	Skills []*skills.Skill `json:"skills"`
	Offset int             `json:"offset"`
	Limit  int             `json:"limit"`
	Total  int             `json:"total"`
}

// SkillSearchResponse echoes the query alongside the ranked matches.
type SkillSearchResponse struct {
	Skills []*skills.Skill `json:"skills"`
	Query  string          `json:"query"`
	Limit  int             `json:"limit"`
}
