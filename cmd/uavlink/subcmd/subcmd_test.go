package subcmd

import (
	"context"
	"testing"

	"github.com/krti/uavlink/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *state.Config, []string) error { return nil }
	mods := []Mod{{Name: "run", Main: noop}, {Name: "console", Main: noop}}
	m, err := Parse("console", mods)
	require.NoError(t, err)
	assert.Equal(t, "console", m.Name)
	_, err = Parse("", mods)
	assert.Error(t, err)
	_, err = Parse("fly", mods)
	assert.EqualError(t, err, "unknown command='fly'")
	assert.Contains(t, Usage(mods), "  console")
	assert.Panics(t, func() { _, _ = Parse("x", []Mod{{}}) })
}
