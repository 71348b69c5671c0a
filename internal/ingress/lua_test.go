package ingress

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightshowd/internal/state"
)

const testScript = `
local log = require("log")

function translate(topic, payload)
  if payload == '{"state":"ON"}' then
    return "on"
  end
  if payload == "dim" then
    log.debug("dimming")
    return "b=2"
  end
  if payload == "boom" then
    error("script failure")
  end
  return nil
end
`

func TestLuaTranslator(t *testing.T) {
	tr, err := NewLuaTranslatorString(testScript)
	require.NoError(t, err)
	defer tr.Close()

	cmd, ok, err := tr.Translate("home/lightshow", `{"state":"ON"}`)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "on", cmd)

	cmd, ok, err = tr.Translate("home/lightshow", "dim")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b=2", cmd)

	_, ok, err = tr.Translate("home/lightshow", "other")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = tr.Translate("home/lightshow", "boom")
	assert.Error(t, err)

	// The VM stays usable after a script error.
	cmd, ok, err = tr.Translate("home/lightshow", "dim")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b=2", cmd)
}

func TestLuaTranslator_WithParser(t *testing.T) {
	tr, err := NewLuaTranslatorString(testScript)
	require.NoError(t, err)
	defer tr.Close()

	p := NewParser(0, tr)
	change, err := p.Parse("home/lightshow", []byte(`{"state":"ON"}`))
	require.NoError(t, err)
	assert.Equal(t, state.Change{Op: state.OpOn}, change)
}

func TestLuaTranslator_MissingFunction(t *testing.T) {
	_, err := NewLuaTranslatorString(`x = 1`)
	assert.Error(t, err)
}

func TestLuaTranslator_SyntaxError(t *testing.T) {
	_, err := NewLuaTranslatorString(`function translate(`)
	assert.Error(t, err)
}

func TestLuaTranslator_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingress.lua")
	require.NoError(t, os.WriteFile(path, []byte(testScript), 0o644))

	tr, err := NewLuaTranslator(path)
	require.NoError(t, err)
	tr.Close()

	_, ok, err := tr.Translate("t", "dim")
	assert.NoError(t, err)
	assert.False(t, ok, "closed translator has no opinion")
}
