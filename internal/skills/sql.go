package skills

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/db"
	"github.com/lunarr-ai/a4s/internal/db/dialect"
	"github.com/lunarr-ai/a4s/internal/embeddings"
)

// Page and result caps applied when the caller passes no limit.
const (
	defaultListLimit   = 50
	defaultSearchLimit = 10
)

const skillColumns = `id, name, description, body, license, compatibility, metadata, allowed_tools, created_at, updated_at`

// SQLStore implements Store on a db.Pool. Each skill row carries the
// embedding of its name and description; Search ranks rows by cosine
// similarity in memory and falls back to substring matching when no
// embedder is wired.
type SQLStore struct {
	pool     *db.Pool
	ownsPool bool
	embedder embeddings.Embedder
	logger   *logger.Logger
}

var _ Store = (*SQLStore)(nil)

// New creates a skill store on an existing pool. The caller keeps ownership
// of the pool. The embedder may be nil; Search then matches on substrings.
func New(pool *db.Pool, embedder embeddings.Embedder, log *logger.Logger) (*SQLStore, error) {
	return newSQLStore(pool, false, embedder, log)
}

// Open creates a skill store backed by the SQLite file at dbPath. The store
// owns the connections and closes them on Close.
func Open(dbPath string, embedder embeddings.Embedder, log *logger.Logger) (*SQLStore, error) {
	writer, err := db.OpenSQLite(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	reader, err := db.OpenSQLiteReader(dbPath)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	pool := db.NewPool(sqlx.NewDb(writer, dialect.SQLite3), sqlx.NewDb(reader, dialect.SQLite3))
	return newSQLStore(pool, true, embedder, log)
}

func newSQLStore(pool *db.Pool, ownsPool bool, embedder embeddings.Embedder, log *logger.Logger) (*SQLStore, error) {
	s := &SQLStore{pool: pool, ownsPool: ownsPool, embedder: embedder, logger: log}
	if err := s.initSchema(); err != nil {
		if ownsPool {
			_ = pool.Close()
		}
		return nil, fmt.Errorf("%w: failed to initialize schema: %v", ErrConnection, err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	writer := s.pool.Writer()
	driver := writer.DriverName()
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS skills (
		id %s,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		license TEXT NOT NULL DEFAULT '',
		compatibility TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		allowed_tools TEXT NOT NULL DEFAULT '[]',
		embedding %s,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS skill_files (
		id %s,
		skill_id BIGINT NOT NULL,
		path TEXT NOT NULL,
		content %s NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_skill_files_skill ON skill_files (skill_id);
	`, dialect.SerialPrimaryKey(driver), dialect.BlobType(driver),
		dialect.SerialPrimaryKey(driver), dialect.BlobType(driver))
	_, err := writer.Exec(schema)
	return err
}

// Close closes the pool when the store owns it.
func (s *SQLStore) Close() error {
	if !s.ownsPool {
		return nil
	}
	return s.pool.Close()
}

// Register validates the skill, embeds its name and description, and inserts
// the skill row with its files in one transaction. When the embedder fails
// the skill is stored without a vector and Search finds it only through the
// substring fallback.
func (s *SQLStore) Register(ctx context.Context, skill *Skill, files []SkillFile) error {
	if err := skill.Validate(); err != nil {
		return err
	}
	if skill.CreatedAt.IsZero() {
		skill.CreatedAt = time.Now().UTC()
	}
	skill.UpdatedAt = skill.CreatedAt
	if skill.Metadata == nil {
		skill.Metadata = map[string]string{}
	}
	if skill.AllowedTools == nil {
		skill.AllowedTools = []string{}
	}

	metadata, err := json.Marshal(skill.Metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize skill metadata: %w", err)
	}
	tools, err := json.Marshal(skill.AllowedTools)
	if err != nil {
		return fmt.Errorf("failed to serialize allowed tools: %w", err)
	}

	var embedding []byte
	if s.embedder != nil {
		vectors, err := s.embedder.Embed(ctx, []string{skill.Document()})
		if err != nil {
			s.logger.Warn("Failed to embed skill description",
				zap.String("name", skill.Name),
				zap.Error(err))
		} else if len(vectors) == 1 {
			embedding = embeddings.EncodeVector(vectors[0])
		}
	}

	writer := s.pool.Writer()
	tx, err := writer.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrConnection, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	insert := `
		INSERT INTO skills (name, description, body, license, compatibility, metadata, allowed_tools, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []any{
		skill.Name, skill.Description, skill.Body, skill.License, skill.Compatibility,
		string(metadata), string(tools), embedding, skill.CreatedAt, skill.UpdatedAt,
	}

	var skillID int64
	if dialect.IsPostgres(writer.DriverName()) {
		err = tx.QueryRowContext(ctx, writer.Rebind(insert+` RETURNING id`), args...).Scan(&skillID)
	} else {
		var result sql.Result
		result, err = tx.ExecContext(ctx, writer.Rebind(insert), args...)
		if err == nil {
			skillID, err = result.LastInsertId()
		}
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: skill with name %q already exists", ErrValidation, skill.Name)
		}
		return fmt.Errorf("%w: failed to register skill: %v", ErrConnection, err)
	}

	for i := range files {
		content := files[i].Content
		if content == nil {
			content = []byte{}
		}
		if _, err := tx.ExecContext(ctx, writer.Rebind(`
			INSERT INTO skill_files (skill_id, path, content, created_at)
			VALUES (?, ?, ?, ?)
		`), skillID, files[i].Path, content, skill.CreatedAt); err != nil {
			return fmt.Errorf("%w: failed to store skill file %q: %v", ErrConnection, files[i].Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to register skill: %v", ErrConnection, err)
	}
	skill.ID = skillID

	s.logger.Info("Skill registered",
		zap.Int64("skill_id", skillID),
		zap.String("name", skill.Name),
		zap.Int("files", len(files)))
	return nil
}

// Unregister removes the skill and its files in one transaction.
func (s *SQLStore) Unregister(ctx context.Context, id int64) error {
	writer := s.pool.Writer()
	tx, err := writer.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrConnection, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, writer.Rebind(`DELETE FROM skill_files WHERE skill_id = ?`), id); err != nil {
		return fmt.Errorf("%w: failed to unregister skill: %v", ErrConnection, err)
	}
	result, err := tx.ExecContext(ctx, writer.Rebind(`DELETE FROM skills WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("%w: failed to unregister skill: %v", ErrConnection, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to unregister skill: %v", ErrConnection, err)
	}

	s.logger.Info("Skill unregistered", zap.Int64("skill_id", id))
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id int64) (*Skill, error) {
	reader := s.pool.Reader()
	row := reader.QueryRowContext(ctx, reader.Rebind(`
		SELECT `+skillColumns+` FROM skills WHERE id = ?
	`), id)
	skill, err := scanSkill(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get skill: %v", ErrConnection, err)
	}
	return skill, nil
}

func (s *SQLStore) GetByName(ctx context.Context, name string) (*Skill, error) {
	reader := s.pool.Reader()
	row := reader.QueryRowContext(ctx, reader.Rebind(`
		SELECT `+skillColumns+` FROM skills WHERE name = ?
	`), name)
	skill, err := scanSkill(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get skill: %v", ErrConnection, err)
	}
	return skill, nil
}

// Files lists the skill's files ordered by path, content omitted.
func (s *SQLStore) Files(ctx context.Context, skillID int64) ([]SkillFile, error) {
	if _, err := s.Get(ctx, skillID); err != nil {
		return nil, err
	}

	reader := s.pool.Reader()
	rows, err := reader.QueryContext(ctx, reader.Rebind(`
		SELECT id, skill_id, path, created_at
		FROM skill_files
		WHERE skill_id = ?
		ORDER BY path
	`), skillID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list skill files: %v", ErrConnection, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	files := make([]SkillFile, 0)
	for rows.Next() {
		var f SkillFile
		if err := rows.Scan(&f.ID, &f.SkillID, &f.Path, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan skill file: %v", ErrConnection, err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to list skill files: %v", ErrConnection, err)
	}
	return files, nil
}

func (s *SQLStore) FileByPath(ctx context.Context, skillID int64, path string) (*SkillFile, error) {
	if _, err := s.Get(ctx, skillID); err != nil {
		return nil, err
	}

	reader := s.pool.Reader()
	var f SkillFile
	err := reader.QueryRowContext(ctx, reader.Rebind(`
		SELECT id, skill_id, path, content, created_at
		FROM skill_files
		WHERE skill_id = ? AND path = ?
	`), skillID, path).Scan(&f.ID, &f.SkillID, &f.Path, &f.Content, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: file %q not found for skill %d", ErrNotFound, path, skillID)
		}
		return nil, fmt.Errorf("%w: failed to get skill file: %v", ErrConnection, err)
	}
	return &f, nil
}

func (s *SQLStore) List(ctx context.Context, offset, limit int) ([]*Skill, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	reader := s.pool.Reader()

	var total int
	if err := reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM skills`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to count skills: %v", ErrConnection, err)
	}

	rows, err := reader.QueryContext(ctx, reader.Rebind(`
		SELECT `+skillColumns+`
		FROM skills
		ORDER BY name
		LIMIT ? OFFSET ?
	`), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to list skills: %v", ErrConnection, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	skills := make([]*Skill, 0, limit)
	for rows.Next() {
		skill, err := scanSkill(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: failed to scan skill: %v", ErrConnection, err)
		}
		skills = append(skills, skill)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to list skills: %v", ErrConnection, err)
	}
	return skills, total, nil
}

// Search ranks skills by cosine similarity between the query embedding and
// each stored skill embedding. Without an embedder, or when embedding the
// query fails, it matches the query as a substring of the name or
// description instead.
func (s *SQLStore) Search(ctx context.Context, query string, limit int) ([]*Skill, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	if s.embedder != nil {
		vectors, err := s.embedder.Embed(ctx, []string{query})
		if err == nil && len(vectors) == 1 {
			return s.searchByVector(ctx, vectors[0], limit)
		}
		s.logger.Warn("Failed to embed skill query, using substring search", zap.Error(err))
	}
	return s.searchBySubstring(ctx, query, limit)
}

func (s *SQLStore) searchByVector(ctx context.Context, queryVec []float32, limit int) ([]*Skill, error) {
	reader := s.pool.Reader()
	rows, err := reader.QueryContext(ctx, `
		SELECT `+skillColumns+`, embedding
		FROM skills
		WHERE embedding IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search skills: %v", ErrConnection, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	type scored struct {
		skill *Skill
		score float64
	}
	hits := make([]scored, 0)
	for rows.Next() {
		skill, vec, err := scanSkillWithEmbedding(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan skill: %v", ErrConnection, err)
		}
		hits = append(hits, scored{skill: skill, score: embeddings.Cosine(queryVec, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to search skills: %v", ErrConnection, err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	skills := make([]*Skill, 0, len(hits))
	for _, h := range hits {
		skills = append(skills, h.skill)
	}
	return skills, nil
}

func (s *SQLStore) searchBySubstring(ctx context.Context, query string, limit int) ([]*Skill, error) {
	reader := s.pool.Reader()
	like := dialect.Like(reader.DriverName())
	pattern := "%" + query + "%"

	rows, err := reader.QueryContext(ctx, reader.Rebind(`
		SELECT `+skillColumns+`
		FROM skills
		WHERE name `+like+` ? OR description `+like+` ?
		ORDER BY name
		LIMIT ?
	`), pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search skills: %v", ErrConnection, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	skills := make([]*Skill, 0)
	for rows.Next() {
		skill, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan skill: %v", ErrConnection, err)
		}
		skills = append(skills, skill)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to search skills: %v", ErrConnection, err)
	}
	return skills, nil
}

func scanSkill(scanner interface{ Scan(dest ...any) error }) (*Skill, error) {
	skill := &Skill{}
	var metadata, tools string
	if err := scanner.Scan(
		&skill.ID,
		&skill.Name,
		&skill.Description,
		&skill.Body,
		&skill.License,
		&skill.Compatibility,
		&metadata,
		&tools,
		&skill.CreatedAt,
		&skill.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := unmarshalSkillJSON(skill, metadata, tools); err != nil {
		return nil, err
	}
	return skill, nil
}

func scanSkillWithEmbedding(scanner interface{ Scan(dest ...any) error }) (*Skill, []float32, error) {
	skill := &Skill{}
	var metadata, tools string
	var embedding []byte
	if err := scanner.Scan(
		&skill.ID,
		&skill.Name,
		&skill.Description,
		&skill.Body,
		&skill.License,
		&skill.Compatibility,
		&metadata,
		&tools,
		&skill.CreatedAt,
		&skill.UpdatedAt,
		&embedding,
	); err != nil {
		return nil, nil, err
	}
	if err := unmarshalSkillJSON(skill, metadata, tools); err != nil {
		return nil, nil, err
	}
	return skill, embeddings.DecodeVector(embedding), nil
}

func unmarshalSkillJSON(skill *Skill, metadata, tools string) error {
	if err := json.Unmarshal([]byte(metadata), &skill.Metadata); err != nil {
		return fmt.Errorf("invalid metadata for skill %d: %w", skill.ID, err)
	}
	if err := json.Unmarshal([]byte(tools), &skill.AllowedTools); err != nil {
		return fmt.Errorf("invalid allowed_tools for skill %d: %w", skill.ID, err)
	}
	if skill.Metadata == nil {
		skill.Metadata = map[string]string{}
	}
	if skill.AllowedTools == nil {
		skill.AllowedTools = []string{}
	}
	return nil
}

// isUniqueViolation sniffs driver error text so the store does not import
// driver-specific error types.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
