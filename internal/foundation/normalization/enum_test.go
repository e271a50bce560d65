package normalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
)

type mode string

const (
	modeFast mode = "fast"
	modeSafe mode = "safe"
)

func TestEnumParse(t *testing.T) {
	e := NewEnum("mode", modeSafe, modeSafe, modeFast)

	for raw, want := range map[string]mode{"fast": modeFast, "  FAST ": modeFast, "Safe": modeSafe, "": modeSafe} {
		got, err := e.Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := e.Parse("turbo")
	require.Error(t, err)
	assert.True(t, foundation.HasCategory(err, foundation.CategoryValidation))
	ce, _ := foundation.AsClassified(err)
	valid, _ := ce.Context().Get("valid")
	assert.Equal(t, "fast, safe", valid)
}

func TestEnumNormalize(t *testing.T) {
	e := NewEnum("mode", modeSafe, modeSafe, modeFast)
	assert.Equal(t, modeFast, e.Normalize("FAST"))
	assert.Equal(t, modeSafe, e.Normalize("turbo"))
	assert.Equal(t, []string{"fast", "safe"}, e.Keys())
}
