package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "trustcert/pkg/domain"
	dErrors "trustcert/pkg/domain-errors"
)

var now = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func newPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy(id.PolicyID(uuid.New()), " Grading Policy 2026 ", "Strict",
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), id.PrincipalID(uuid.New()), now)
	require.NoError(t, err)
	return p
}

func TestNewPolicy(t *testing.T) {
	p := newPolicy(t)
	assert.Equal(t, "Grading Policy 2026", p.Name)
	assert.True(t, p.Active)
	assert.False(t, p.Frozen)
	assert.True(t, p.InEffect(now))

	_, err := NewPolicy(id.PolicyID(uuid.New()), " ", "", now, id.PrincipalID(uuid.New()), now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = NewPolicy(id.PolicyID(uuid.New()), "x", "", time.Time{}, id.PrincipalID(uuid.New()), now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestPolicy_Apply(t *testing.T) {
	t.Run("edits selected fields", func(t *testing.T) {
		p := newPolicy(t)
		desc := "Lenient"
		inactive := false
		later := now.Add(time.Hour)
		require.NoError(t, p.Apply(Update{Description: &desc, Active: &inactive}, later))
		assert.Equal(t, "Lenient", p.Description)
		assert.False(t, p.Active)
		assert.Equal(t, "Grading Policy 2026", p.Name)
		assert.Equal(t, later, p.UpdatedAt)
		assert.False(t, p.InEffect(later))
	})

	t.Run("empty update", func(t *testing.T) {
		p := newPolicy(t)
		assert.True(t, dErrors.HasCode(p.Apply(Update{}, now), dErrors.CodeValidation))
	})

	t.Run("blank name", func(t *testing.T) {
		p := newPolicy(t)
		blank := "  "
		assert.True(t, dErrors.HasCode(p.Apply(Update{Name: &blank}, now), dErrors.CodeValidation))
	})

	t.Run("frozen policies reject edits", func(t *testing.T) {
		p := newPolicy(t)
		require.NoError(t, p.Freeze(now))
		desc := "changed"
		err := p.Apply(Update{Description: &desc}, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
		assert.Equal(t, "Strict", p.Description)
	})
}

func TestPolicy_Freeze(t *testing.T) {
	p := newPolicy(t)
	require.NoError(t, p.Freeze(now))
	assert.True(t, p.Frozen)
	assert.True(t, dErrors.HasCode(p.Freeze(now), dErrors.CodeConflict))
}

func TestPolicy_InEffect(t *testing.T) {
	p := newPolicy(t)
	assert.False(t, p.InEffect(p.ActivationDate.Add(-time.Second)))
	assert.True(t, p.InEffect(p.ActivationDate))
}
