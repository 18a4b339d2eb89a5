package skills

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/embeddings"
)

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("provider down")
}

func (failingEmbedder) Dimension() int { return 0 }

func newTestStore(t *testing.T, embedder embeddings.Embedder) *SQLStore {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	s, err := Open(filepath.Join(t.TempDir(), "skills.db"), embedder, log)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func testSkill(name, description string) *Skill {
	return &Skill{
		Name:         name,
		Description:  description,
		Body:         "# " + name + "\n\nInstructions for " + name + ".",
		Metadata:     map[string]string{"category": "testing"},
		AllowedTools: []string{"bash", "read"},
	}
}

func TestRegisterAndGet(t *testing.T) {
	s := newTestStore(t, embeddings.NewLocalEmbedder(64))
	ctx := context.Background()

	skill := testSkill("pdf-processing", "extract text and tables from pdf documents")
	skill.License = "apache-2.0"
	skill.Compatibility = "requires poppler-utils"
	files := []SkillFile{
		{Path: "scripts/extract.py", Content: []byte("print('extract')")},
		{Path: "reference.md", Content: []byte("# Reference")},
	}
	require.NoError(t, s.Register(ctx, skill, files))
	require.NotZero(t, skill.ID)
	require.False(t, skill.CreatedAt.IsZero())

	got, err := s.Get(ctx, skill.ID)
	require.NoError(t, err)
	assert.Equal(t, skill.ID, got.ID)
	assert.Equal(t, "pdf-processing", got.Name)
	assert.Equal(t, "extract text and tables from pdf documents", got.Description)
	assert.Equal(t, skill.Body, got.Body)
	assert.Equal(t, "apache-2.0", got.License)
	assert.Equal(t, "requires poppler-utils", got.Compatibility)
	assert.Equal(t, map[string]string{"category": "testing"}, got.Metadata)
	assert.Equal(t, []string{"bash", "read"}, got.AllowedTools)
	assert.WithinDuration(t, skill.CreatedAt, got.CreatedAt, time.Second)
}

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	s := newTestStore(t, embeddings.NewLocalEmbedder(64))
	ctx := context.Background()

	first := testSkill("first-skill", "the first")
	second := testSkill("second-skill", "the second")
	require.NoError(t, s.Register(ctx, first, nil))
	require.NoError(t, s.Register(ctx, second, nil))
	assert.Greater(t, second.ID, first.ID)
}

func TestRegisterValidates(t *testing.T) {
	s := newTestStore(t, embeddings.NewLocalEmbedder(64))
	ctx := context.Background()

	bad := testSkill("Bad Name", "description")
	err := s.Register(ctx, bad, nil)
	require.ErrorIs(t, err, ErrValidation)

	noDescription := testSkill("fine-name", "")
	err = s.Register(ctx, noDescription, nil)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "description")
}

func TestRegisterDuplicateName(t *testing.T) {
	s := newTestStore(t, embeddings.NewLocalEmbedder(64))
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, testSkill("web-scraping", "scrape pages"), nil))

	err := s.Register(ctx, testSkill("web-scraping", "scrape other pages"), nil)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), `skill with name "web-scraping" already exists`)
}

func TestGetByName(t *testing.T) {
	s := newTestStore(t, embeddings.NewLocalEmbedder(64))
	ctx := context.Background()

	skill := testSkill("code-review", "review pull requests for defects")
	require.NoError(t, s.Register(ctx, skill, nil))

	got, err := s.GetByName(ctx, "code-review")
	require.NoError(t, err)
	assert.Equal(t, skill.ID, got.ID)

	_, err = s.GetByName(ctx, "no-such-skill")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetMissingSkill(t *testing.T) {
	s := newTestStore(t, embeddings.NewLocalEmbedder(64))

	_, err := s.Get(context.Background(), 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdersByName(t *testing.T) {
	s := newTestStore(t, embeddings.NewLocalEmbedder(64))
	ctx := context.Background()

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, s.Register(ctx, testSkill(name, name+" things"), nil))
	}

	skills, total, err := s.List(ctx, 0, 50)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, skills, 3)
	assert.Equal(t, "alpha", skills[0].Name)
	assert.Equal(t, "bravo", skills[1].Name)
	assert.Equal(t, "charlie", skills[2].Name)

	page, total, err := s.List(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "bravo", page[0].Name)
}

func TestUnregister(t *testing.T) {
	s := newTestStore(t, embeddings.NewLocalEmbedder(64))
	ctx := context.Background()

	skill := testSkill("doomed-skill", "soon to be gone")
	require.NoError(t, s.Register(ctx, skill, []SkillFile{{Path: "notes.md", Content: []byte("notes")}}))
	require.NoError(t, s.Unregister(ctx, skill.ID))

	_, err := s.Get(ctx, skill.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, s.Unregister(ctx, skill.ID), ErrNotFound)
}

func TestFiles(t *testing.T) {
	s := newTestStore(t, embeddings.NewLocalEmbedder(64))
	ctx := context.Background()

	skill := testSkill("data-cleanup", "normalize messy csv files")
	files := []SkillFile{
		{Path: "scripts/clean.py", Content: []byte("print('clean')")},
		{Path: "examples/input.csv", Content: []byte("a,b\n1,2\n")},
	}
	require.NoError(t, s.Register(ctx, skill, files))

	listed, err := s.Files(ctx, skill.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "examples/input.csv", listed[0].Path)
	assert.Equal(t, "scripts/clean.py", listed[1].Path)
	for _, f := range listed {
		assert.Nil(t, f.Content, "listing omits content")
		assert.Equal(t, skill.ID, f.SkillID)
	}

	file, err := s.FileByPath(ctx, skill.ID, "scripts/clean.py")
	require.NoError(t, err)
	assert.Equal(t, []byte("print('clean')"), file.Content)
}

func TestFileByPathMissing(t *testing.T) {
	s := newTestStore(t, embeddings.NewLocalEmbedder(64))
	ctx := context.Background()

	skill := testSkill("lonely-skill", "has no files")
	require.NoError(t, s.Register(ctx, skill, nil))

	_, err := s.FileByPath(ctx, skill.ID, "missing.txt")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), `file "missing.txt" not found for skill`)
}

func TestFilesMissingSkill(t *testing.T) {
	s := newTestStore(t, embeddings.NewLocalEmbedder(64))

	_, err := s.Files(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.FileByPath(context.Background(), 42, "anything.md")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSearchRanksBySimilarity(t *testing.T) {
	s := newTestStore(t, embeddings.NewLocalEmbedder(embeddings.DefaultLocalDimensions))
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, testSkill("data-analysis", "analyze csv data and compute statistics"), nil))
	require.NoError(t, s.Register(ctx, testSkill("story-writing", "write fantasy short stories"), nil))

	hits, err := s.Search(ctx, "data analysis and statistics helper", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "data-analysis", hits[0].Name)
}

func TestSearchHonorsLimit(t *testing.T) {
	s := newTestStore(t, embeddings.NewLocalEmbedder(64))
	ctx := context.Background()

	for _, name := range []string{"skill-a", "skill-b", "skill-c"} {
		require.NoError(t, s.Register(ctx, testSkill(name, "generic helper skill"), nil))
	}

	hits, err := s.Search(ctx, "helper", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSearchEmptyStore(t *testing.T) {
	s := newTestStore(t, embeddings.NewLocalEmbedder(64))

	hits, err := s.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	require.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestSearchWithoutEmbedderMatchesSubstring(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, testSkill("story-writing", "write fantasy short stories"), nil))
	require.NoError(t, s.Register(ctx, testSkill("data-analysis", "analyze csv data"), nil))

	hits, err := s.Search(ctx, "fantasy", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "story-writing", hits[0].Name)
}

func TestRegisterSurvivesEmbedderFailure(t *testing.T) {
	s := newTestStore(t, failingEmbedder{})
	ctx := context.Background()

	skill := testSkill("resilient-skill", "still registered when embeddings are down")
	require.NoError(t, s.Register(ctx, skill, nil))

	got, err := s.Get(ctx, skill.ID)
	require.NoError(t, err)
	assert.Equal(t, "resilient-skill", got.Name)

	// Query embedding fails too, so search degrades to substring matching.
	hits, err := s.Search(ctx, "resilient", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "resilient-skill", hits[0].Name)
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skills.db")
	ctx := context.Background()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	embedder := embeddings.NewLocalEmbedder(64)

	s, err := Open(path, embedder, log)
	require.NoError(t, err)
	skill := testSkill("persistent-skill", "survives a process restart")
	require.NoError(t, s.Register(ctx, skill, []SkillFile{{Path: "keep.md", Content: []byte("kept")}}))
	require.NoError(t, s.Close())

	reopened, err := Open(path, embedder, log)
	require.NoError(t, err)
	defer func() {
		_ = reopened.Close()
	}()

	got, err := reopened.GetByName(ctx, "persistent-skill")
	require.NoError(t, err)
	assert.Equal(t, skill.ID, got.ID)

	// The stored vector survives too.
	hits, err := reopened.Search(ctx, "survives a process restart", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "persistent-skill", hits[0].Name)

	file, err := reopened.FileByPath(ctx, skill.ID, "keep.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), file.Content)
}
