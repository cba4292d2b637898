//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"zigbee-quirks/internal/cluster"
)

// Enabled reports whether scripted transforms are compiled in.
const Enabled = true

// ErrNoResult is returned when a transform script returns nil.
var ErrNoResult = errors.New("script returned no value")

// scriptVM is one sandboxed Lua state running a single compiled transform.
// gopher-lua states are not goroutine safe, so calls are serialized.
type scriptVM struct {
	mu    sync.Mutex
	state *lua.LState
	fn    *lua.LFunction
	name  string
}

// Engine compiles bridge transforms written in Lua. Each transform gets its
// own VM with the dangerous libraries removed. The reported value is bound to
// the global "value"; the script's return value is the derived value.
type Engine struct {
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	vms    []*scriptVM
	closed bool
}

// NewEngine creates a transform compiler. timeout bounds a single call.
func NewEngine(logger *slog.Logger, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	return &Engine{
		logger:  logger.With("component", "automation"),
		timeout: timeout,
	}
}

// Compile turns a script into a transform. A bare expression such as
// "value * 10" is accepted as shorthand for "return value * 10".
func (e *Engine) Compile(src string) (cluster.Transform, error) {
	proto, err := compile(src)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("compile: engine closed")
	}

	L := newSandbox()
	vm := &scriptVM{
		state: L,
		fn:    L.NewFunctionFromProto(proto),
		name:  fmt.Sprintf("transform#%d", len(e.vms)+1),
	}
	registerLog(L, e.logger.With("script", vm.name))
	e.vms = append(e.vms, vm)
	e.logger.Debug("transform compiled", "script", vm.name, "code_len", len(src))

	return func(v any) (any, error) {
		return e.call(vm, v)
	}, nil
}

func compile(src string) (*lua.FunctionProto, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("compile: empty script")
	}
	if !strings.Contains(src, "return") {
		if proto, err := compileChunk("return " + src); err == nil {
			return proto, nil
		}
	}
	return compileChunk(src)
}

func compileChunk(src string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(src), "<transform>")
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	proto, err := lua.Compile(chunk, "<transform>")
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	return proto, nil
}

// newSandbox creates a state without file, process or module access.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
	L.SetGlobal("package", lua.LNil)
	return L
}

func registerLog(L *lua.LState, logger *slog.Logger) {
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		logger.Info("script log", "msg", L.CheckString(1))
		return 0
	}))
}

func (e *Engine) call(vm *scriptVM, v any) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	vm.mu.Lock()
	defer vm.mu.Unlock()
	L := vm.state
	L.SetContext(ctx)
	defer L.RemoveContext()

	L.SetGlobal("value", goToLua(L, v))
	if err := L.CallByParam(lua.P{Fn: vm.fn, NRet: 1, Protect: true}); err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "context deadline exceeded") {
			return nil, fmt.Errorf("%s: timeout (%s)", vm.name, e.timeout)
		}
		return nil, fmt.Errorf("%s: %w", vm.name, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	out, err := luaToGo(ret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", vm.name, err)
	}
	return out, nil
}

// Close releases every VM. Transforms compiled earlier must not be called
// afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, vm := range e.vms {
		vm.mu.Lock()
		vm.state.Close()
		vm.mu.Unlock()
	}
	e.vms = nil
	e.closed = true
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a script result. Whole numbers come back as int64.
func luaToGo(v lua.LValue) (any, error) {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val), nil
	case lua.LString:
		return string(val), nil
	case lua.LNumber:
		f := float64(val)
		if f == float64(int64(f)) {
			return int64(f), nil
		}
		return f, nil
	}
	if v == lua.LNil {
		return nil, ErrNoResult
	}
	return nil, fmt.Errorf("unsupported result type %s", v.Type())
}
