package ingress

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// translateFunc is the global the script must define:
//
//	function translate(topic, payload) return "on" end
const translateFunc = "translate"

// LuaTranslator runs a user script to map foreign payloads (for example
// JSON from a home automation hub) onto built-in commands.
type LuaTranslator struct {
	mu sync.Mutex
	L  *lua.LState
	fn *lua.LFunction
}

// NewLuaTranslator loads the script at path.
func NewLuaTranslator(path string) (*LuaTranslator, error) {
	L := lua.NewState()
	L.PreloadModule("log", logLoader)

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load ingress script %s: %w", path, err)
	}
	return newLuaTranslator(L, path)
}

// NewLuaTranslatorString loads a script from source.
func NewLuaTranslatorString(source string) (*LuaTranslator, error) {
	L := lua.NewState()
	L.PreloadModule("log", logLoader)

	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load ingress script: %w", err)
	}
	return newLuaTranslator(L, "<string>")
}

func newLuaTranslator(L *lua.LState, name string) (*LuaTranslator, error) {
	fn, ok := L.GetGlobal(translateFunc).(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("ingress script %s does not define %s(topic, payload)", name, translateFunc)
	}

	log.Info().Str("script", name).Msg("Ingress translator loaded")
	return &LuaTranslator{L: L, fn: fn}, nil
}

// Translate calls translate(topic, payload). A string result is the
// command; nil or false means no opinion.
func (t *LuaTranslator) Translate(topic, payload string) (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.L == nil {
		return "", false, nil
	}

	err := t.L.CallByParam(lua.P{
		Fn:      t.fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(topic), lua.LString(payload))
	if err != nil {
		return "", false, err
	}

	ret := t.L.Get(-1)
	t.L.Pop(1)

	if s, ok := ret.(lua.LString); ok {
		return string(s), true, nil
	}
	return "", false, nil
}

// Close releases the Lua VM.
func (t *LuaTranslator) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.L != nil {
		t.L.Close()
		t.L = nil
	}
}

// logLoader exposes zerolog to scripts as require("log").
func logLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(func(L *lua.LState) int {
		log.Debug().Str("source", "lua").Msg(L.CheckString(1))
		return 0
	}))
	L.SetField(mod, "info", L.NewFunction(func(L *lua.LState) int {
		log.Info().Str("source", "lua").Msg(L.CheckString(1))
		return 0
	}))
	L.SetField(mod, "warn", L.NewFunction(func(L *lua.LState) int {
		log.Warn().Str("source", "lua").Msg(L.CheckString(1))
		return 0
	}))
	L.Push(mod)
	return 1
}
