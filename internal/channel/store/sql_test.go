package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunarr-ai/a4s/internal/channel"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "channels.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func testChannel(name string, agentIDs ...string) *channel.Channel {
	return &channel.Channel{
		Name:        name,
		Description: name + " channel",
		AgentIDs:    agentIDs,
		OwnerID:     "owner-1",
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch := testChannel("research", "writer-ab12c", "critic-de34f")
	require.NoError(t, s.Create(ctx, ch))
	require.NotEmpty(t, ch.ID)
	require.False(t, ch.CreatedAt.IsZero())

	got, err := s.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, got.ID)
	assert.Equal(t, "research", got.Name)
	assert.Equal(t, "research channel", got.Description)
	assert.Equal(t, []string{"writer-ab12c", "critic-de34f"}, got.AgentIDs)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.WithinDuration(t, ch.CreatedAt, got.CreatedAt, time.Second)
	assert.WithinDuration(t, ch.UpdatedAt, got.UpdatedAt, time.Second)
}

func TestGetMissingChannel(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "no-such-channel")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateNormalizesEmptyMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch := &channel.Channel{Name: "empty", OwnerID: "owner-1"}
	require.NoError(t, s.Create(ctx, ch))

	got, err := s.Get(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AgentIDs)
	assert.Empty(t, got.AgentIDs)
}

func TestListOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, name := range []string{"oldest", "middle", "newest"} {
		ch := testChannel(name)
		ch.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Create(ctx, ch))
	}

	channels, total, err := s.List(ctx, 0, 50)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, channels, 3)
	assert.Equal(t, "newest", channels[0].Name)
	assert.Equal(t, "middle", channels[1].Name)
	assert.Equal(t, "oldest", channels[2].Name)
}

func TestListPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		ch := testChannel(string(rune('a' + i)))
		ch.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Create(ctx, ch))
	}

	page, total, err := s.List(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "d", page[0].Name)
	assert.Equal(t, "c", page[1].Name)

	tail, total, err := s.List(ctx, 4, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, tail, 1)
	assert.Equal(t, "a", tail[0].Name)
}

func TestUpdatePartialFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch := testChannel("before", "writer-ab12c")
	require.NoError(t, s.Create(ctx, ch))

	name := "after"
	updated, err := s.Update(ctx, ch.ID, Update{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Name)
	assert.Equal(t, "before channel", updated.Description, "unset fields keep their value")
	assert.Equal(t, []string{"writer-ab12c"}, updated.AgentIDs)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt) || updated.UpdatedAt.Equal(updated.CreatedAt))

	description := "fresh description"
	updated, err = s.Update(ctx, ch.ID, Update{Description: &description})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Name)
	assert.Equal(t, "fresh description", updated.Description)
}

func TestUpdateMissingChannel(t *testing.T) {
	s := newTestStore(t)

	name := "whatever"
	_, err := s.Update(context.Background(), "no-such-channel", Update{Name: &name})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAddAgentsDedupes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch := testChannel("team", "writer-ab12c")
	require.NoError(t, s.Create(ctx, ch))

	updated, err := s.AddAgents(ctx, ch.ID, []string{"critic-de34f", "writer-ab12c", "critic-de34f"})
	require.NoError(t, err)
	assert.Equal(t, []string{"writer-ab12c", "critic-de34f"}, updated.AgentIDs)

	got, err := s.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"writer-ab12c", "critic-de34f"}, got.AgentIDs)
}

func TestRemoveAgents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch := testChannel("team", "writer-ab12c", "critic-de34f", "coder-gh56i")
	require.NoError(t, s.Create(ctx, ch))

	updated, err := s.RemoveAgents(ctx, ch.ID, []string{"critic-de34f", "never-there"})
	require.NoError(t, err)
	assert.Equal(t, []string{"writer-ab12c", "coder-gh56i"}, updated.AgentIDs)
}

func TestMembershipMutationsOnMissingChannel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddAgents(ctx, "no-such-channel", []string{"writer-ab12c"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.RemoveAgents(ctx, "no-such-channel", []string{"writer-ab12c"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteChannel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch := testChannel("doomed")
	require.NoError(t, s.Create(ctx, ch))
	require.NoError(t, s.Delete(ctx, ch.ID))

	_, err := s.Get(ctx, ch.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, s.Delete(ctx, ch.ID), ErrNotFound)
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	ch := testChannel("persistent", "writer-ab12c")
	require.NoError(t, s.Create(ctx, ch))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() {
		_ = reopened.Close()
	}()

	got, err := reopened.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "persistent", got.Name)
	assert.Equal(t, []string{"writer-ab12c"}, got.AgentIDs)
}
