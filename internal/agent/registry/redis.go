package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/agent"
	"github.com/lunarr-ai/a4s/internal/common/config"
	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/embeddings"
)

const defaultNamespace = "a4s"

// storedAgent is the JSON document persisted per agent: the public record
// plus the embedding computed at registration time.
type storedAgent struct {
	agent.Agent
	Embedding []float32 `json:"embedding,omitempty"`
}

// RedisRegistry implements Registry on Redis. Every agent lives under
// {namespace}:agents:{id} with a set index at {namespace}:agents.
type RedisRegistry struct {
	client    *redis.Client
	namespace string
	embedder  embeddings.Embedder
	logger    *logger.Logger
}

// NewRedisRegistry creates a registry client. The connection is lazy; use
// Ping to verify reachability at startup.
func NewRedisRegistry(cfg config.RegistryConfig, embedder embeddings.Embedder, log *logger.Logger) *RedisRegistry {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	return &RedisRegistry{
		client:    client,
		namespace: namespace,
		embedder:  embedder,
		logger:    log,
	}
}

// NewRedisRegistryWithClient wires an existing client, used by tests.
func NewRedisRegistryWithClient(client *redis.Client, namespace string, embedder embeddings.Embedder, log *logger.Logger) *RedisRegistry {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &RedisRegistry{client: client, namespace: namespace, embedder: embedder, logger: log}
}

func (r *RedisRegistry) agentKey(id string) string {
	return fmt.Sprintf("%s:agents:%s", r.namespace, id)
}

func (r *RedisRegistry) indexKey() string {
	return fmt.Sprintf("%s:agents", r.namespace)
}

// Register stores the agent record and the embedding of its name and
// description atomically.
func (r *RedisRegistry) Register(ctx context.Context, a *agent.Agent) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	stored := storedAgent{Agent: *a}
	vectors, err := r.embedder.Embed(ctx, []string{a.Name + "\n" + a.Description})
	if err != nil {
		// Search degrades to zero scores for this agent; registration
		// itself must not depend on the embedding provider being up.
		r.logger.Warn("Failed to embed agent description",
			zap.String("agent_id", a.ID),
			zap.Error(err))
	} else if len(vectors) == 1 {
		stored.Embedding = vectors[0]
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal agent %s: %w", a.ID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.agentKey(a.ID), data, 0)
	pipe.SAdd(ctx, r.indexKey(), a.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return connErr(err)
	}

	r.logger.Info("Agent registered",
		zap.String("agent_id", a.ID),
		zap.String("name", a.Name),
		zap.String("mode", string(a.Mode)))
	return nil
}

// Get returns the agent with the given id.
func (r *RedisRegistry) Get(ctx context.Context, id string) (*agent.Agent, error) {
	data, err := r.client.Get(ctx, r.agentKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotRegistered
		}
		return nil, connErr(err)
	}

	var stored storedAgent
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent %s: %w", id, err)
	}
	a := stored.Agent
	return &a, nil
}

// List returns a page of agents ordered by creation time, oldest first.
func (r *RedisRegistry) List(ctx context.Context, offset, limit int) ([]*agent.Agent, int, error) {
	all, err := r.loadAll(ctx)
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []*agent.Agent{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	page := make([]*agent.Agent, 0, end-offset)
	for _, stored := range all[offset:end] {
		a := stored.Agent
		page = append(page, &a)
	}
	return page, total, nil
}

// Search ranks all registered agents by cosine similarity to the query.
func (r *RedisRegistry) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	all, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return []SearchHit{}, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed search query: %w", err)
	}
	queryVec := vectors[0]

	hits := make([]SearchHit, 0, len(all))
	for _, stored := range all {
		a := stored.Agent
		hits = append(hits, SearchHit{
			Agent: &a,
			Score: embeddings.Cosine(queryVec, stored.Embedding),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Unregister removes the agent record and its index entry.
func (r *RedisRegistry) Unregister(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	delCmd := pipe.Del(ctx, r.agentKey(id))
	pipe.SRem(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return connErr(err)
	}
	if delCmd.Val() == 0 {
		return ErrNotRegistered
	}

	r.logger.Info("Agent unregistered", zap.String("agent_id", id))
	return nil
}

// Ping verifies the Redis connection.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return connErr(err)
	}
	return nil
}

// Close releases the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

// loadAll fetches every stored agent. Index entries without a record (a
// concurrent unregister) are skipped.
func (r *RedisRegistry) loadAll(ctx context.Context) ([]storedAgent, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, connErr(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.agentKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, connErr(err)
	}

	agents := make([]storedAgent, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var stored storedAgent
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			r.logger.Warn("Skipping corrupt agent record",
				zap.String("agent_id", ids[i]),
				zap.Error(err))
			continue
		}
		agents = append(agents, stored)
	}
	return agents, nil
}

func connErr(err error) error {
	return fmt.Errorf("%w: %v", ErrConnection, err)
}
