package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcert/internal/governance/models"
	id "trustcert/pkg/domain"
	"trustcert/pkg/platform/sentinel"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	older, err := models.NewPolicy(id.PolicyID(uuid.New()), "Older", "", base, id.PrincipalID(uuid.New()), base)
	require.NoError(t, err)
	newer, err := models.NewPolicy(id.PolicyID(uuid.New()), "Newer", "", base, id.PrincipalID(uuid.New()), base.Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.Create(ctx, older))
	require.NoError(t, s.Create(ctx, newer))
	assert.ErrorIs(t, s.Create(ctx, older), sentinel.ErrAlreadyUsed)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Newer", list[0].Name)

	got, err := s.FindByIDForUpdate(ctx, older.ID)
	require.NoError(t, err)
	got.Name = "mutated"
	again, err := s.FindByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "Older", again.Name, "reads return copies")

	require.NoError(t, got.Freeze(base))
	require.NoError(t, s.Update(ctx, got))
	again, err = s.FindByID(ctx, older.ID)
	require.NoError(t, err)
	assert.True(t, again.Frozen)

	missing := *older
	missing.ID = id.PolicyID(uuid.New())
	assert.ErrorIs(t, s.Update(ctx, &missing), sentinel.ErrNotFound)
	_, err = s.FindByID(ctx, missing.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
