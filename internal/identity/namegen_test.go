package identity

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNameGeneratorUnknownStrategy(t *testing.T) {
	_, err := NewNameGenerator("petname", "")
	require.Error(t, err)
}

func TestPoolGeneratorFormat(t *testing.T) {
	gen, err := NewNameGenerator("pool", "")
	require.NoError(t, err)

	format := regexp.MustCompile(`^[a-z]+-[a-z]+-\d{1,2}$`)
	for i := 0; i < 50; i++ {
		assert.Regexp(t, format, gen.Generate())
	}
}

func TestBaseGeneratorUsesConfiguredBase(t *testing.T) {
	gen, err := NewNameGenerator("base", "player")
	require.NoError(t, err)

	format := regexp.MustCompile(`^player-\d{5}$`)
	for i := 0; i < 50; i++ {
		assert.Regexp(t, format, gen.Generate())
	}
}

func TestBaseGeneratorDefaultsBaseWord(t *testing.T) {
	gen, err := NewNameGenerator("base", "")
	require.NoError(t, err)
	assert.Regexp(t, `^user-\d{5}$`, gen.Generate())
}
