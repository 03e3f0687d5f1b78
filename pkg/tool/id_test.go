package tool

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUIDV7(t *testing.T) {
	id := GenerateUUIDV7()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), parsed.Version())
}

func TestGeneratePassword(t *testing.T) {
	p := GeneratePassword(10)
	require.Len(t, p, 10)
	for _, c := range p {
		require.True(t, strings.ContainsRune(passwordAlphabet, c))
	}

	// zero length falls back to the default
	require.Len(t, GeneratePassword(0), 10)

	require.NotEqual(t, GeneratePassword(16), GeneratePassword(16))
}
