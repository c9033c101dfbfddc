package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrix_Lookup(t *testing.T) {
	m := NewDefaultMatrix()

	a, err := m.Lookup(TestingStrategy)
	require.NoError(t, err)
	assert.Equal(t, "qa-engineer", a.Responsible)
	assert.Equal(t, "engineering-lead", a.Accountable)
	assert.NotEmpty(t, a.Consulted)
}

func TestMatrix_UnknownKind(t *testing.T) {
	m := NewDefaultMatrix()

	_, err := m.Lookup("coffee_machine_upgrades")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestMatrix_EveryDefaultRowIsComplete(t *testing.T) {
	m := NewDefaultMatrix()
	for _, kind := range m.Kinds() {
		a, err := m.Lookup(kind)
		require.NoError(t, err)
		assert.NotEmpty(t, a.Responsible, "kind %s", kind)
		assert.NotEmpty(t, a.Accountable, "kind %s", kind)
	}
}
