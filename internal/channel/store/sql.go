package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lunarr-ai/a4s/internal/channel"
	"github.com/lunarr-ai/a4s/internal/db"
	"github.com/lunarr-ai/a4s/internal/db/dialect"
)

// defaultListLimit caps List pages when the caller passes no limit.
const defaultListLimit = 50

const selectColumns = `id, name, description, agent_ids, owner_id, created_at, updated_at`

// SQLStore implements Store on a db.Pool. Membership updates run as
// read-modify-write transactions on the writer connection, which SQLite
// serializes through its single-writer pool.
type SQLStore struct {
	pool     *db.Pool
	ownsPool bool
}

var _ Store = (*SQLStore)(nil)

// New creates a channel store on an existing pool. The caller keeps
// ownership of the pool.
func New(pool *db.Pool) (*SQLStore, error) {
	return newSQLStore(pool, false)
}

// Open creates a channel store backed by the SQLite file at dbPath. The
// store owns the connections and closes them on Close.
func Open(dbPath string) (*SQLStore, error) {
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
	return newSQLStore(pool, true)
}

func newSQLStore(pool *db.Pool, ownsPool bool) (*SQLStore, error) {
	s := &SQLStore{pool: pool, ownsPool: ownsPool}
	if err := s.initSchema(); err != nil {
		if ownsPool {
			_ = pool.Close()
		}
		return nil, fmt.Errorf("%w: failed to initialize schema: %v", ErrConnection, err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		agent_ids TEXT NOT NULL DEFAULT '[]',
		owner_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := s.pool.Writer().Exec(schema)
	return err
}

// Close closes the pool when the store owns it.
func (s *SQLStore) Close() error {
	if !s.ownsPool {
		return nil
	}
	return s.pool.Close()
}

func (s *SQLStore) Create(ctx context.Context, ch *channel.Channel) error {
	if ch.ID == "" {
		ch.ID = channel.GenerateID()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	ch.UpdatedAt = ch.CreatedAt
	if ch.AgentIDs == nil {
		ch.AgentIDs = []string{}
	}

	agentIDs, err := marshalAgentIDs(ch.AgentIDs)
	if err != nil {
		return err
	}
	writer := s.pool.Writer()
	_, err = writer.ExecContext(ctx, writer.Rebind(`
		INSERT INTO channels (id, name, description, agent_ids, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), ch.ID, ch.Name, ch.Description, agentIDs, ch.OwnerID, ch.CreatedAt, ch.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to create channel: %v", ErrConnection, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*channel.Channel, error) {
	reader := s.pool.Reader()
	row := reader.QueryRowContext(ctx, reader.Rebind(`
		SELECT `+selectColumns+` FROM channels WHERE id = ?
	`), id)
	ch, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get channel: %v", ErrConnection, err)
	}
	return ch, nil
}

func (s *SQLStore) List(ctx context.Context, offset, limit int) ([]*channel.Channel, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	reader := s.pool.Reader()

	var total int
	if err := reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to count channels: %v", ErrConnection, err)
	}

	rows, err := reader.QueryContext(ctx, reader.Rebind(`
		SELECT `+selectColumns+`
		FROM channels
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to list channels: %v", ErrConnection, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	channels := make([]*channel.Channel, 0, limit)
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: failed to scan channel: %v", ErrConnection, err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to list channels: %v", ErrConnection, err)
	}
	return channels, total, nil
}

func (s *SQLStore) Update(ctx context.Context, id string, update Update) (*channel.Channel, error) {
	return s.mutate(ctx, id, func(ch *channel.Channel) {
		if update.Name != nil {
			ch.Name = *update.Name
		}
		if update.Description != nil {
			ch.Description = *update.Description
		}
	})
}

func (s *SQLStore) AddAgents(ctx context.Context, id string, agentIDs []string) (*channel.Channel, error) {
	return s.mutate(ctx, id, func(ch *channel.Channel) {
		ch.AddAgents(agentIDs)
	})
}

func (s *SQLStore) RemoveAgents(ctx context.Context, id string, agentIDs []string) (*channel.Channel, error) {
	return s.mutate(ctx, id, func(ch *channel.Channel) {
		ch.RemoveAgents(agentIDs)
	})
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	writer := s.pool.Writer()
	result, err := writer.ExecContext(ctx, writer.Rebind(`DELETE FROM channels WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("%w: failed to delete channel: %v", ErrConnection, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// mutate reads the channel, applies the mutation, stamps updated_at, and
// writes the row back, all within one writer transaction.
func (s *SQLStore) mutate(ctx context.Context, id string, apply func(*channel.Channel)) (*channel.Channel, error) {
	writer := s.pool.Writer()
	tx, err := writer.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %v", ErrConnection, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, writer.Rebind(`
		SELECT `+selectColumns+` FROM channels WHERE id = ?
	`), id)
	ch, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get channel: %v", ErrConnection, err)
	}

	apply(ch)
	ch.UpdatedAt = time.Now().UTC()

	agentIDs, err := marshalAgentIDs(ch.AgentIDs)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, writer.Rebind(`
		UPDATE channels
		SET name = ?, description = ?, agent_ids = ?, updated_at = ?
		WHERE id = ?
	`), ch.Name, ch.Description, agentIDs, ch.UpdatedAt, ch.ID); err != nil {
		return nil, fmt.Errorf("%w: failed to update channel: %v", ErrConnection, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to update channel: %v", ErrConnection, err)
	}
	return ch, nil
}

func scanChannel(scanner interface{ Scan(dest ...any) error }) (*channel.Channel, error) {
	ch := &channel.Channel{}
	var agentIDs string
	if err := scanner.Scan(
		&ch.ID,
		&ch.Name,
		&ch.Description,
		&agentIDs,
		&ch.OwnerID,
		&ch.CreatedAt,
		&ch.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(agentIDs), &ch.AgentIDs); err != nil {
		return nil, fmt.Errorf("invalid agent_ids for channel %s: %w", ch.ID, err)
	}
	if ch.AgentIDs == nil {
		ch.AgentIDs = []string{}
	}
	return ch, nil
}

func marshalAgentIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to serialize agent ids: %w", err)
	}
	return string(data), nil
}
