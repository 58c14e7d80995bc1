package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/agenttown/recall/pkg/log"
)

// LuaEngine implements Engine on a single gopher-lua state. LState is
// not safe for concurrent use; every entry point takes the mutex.
type LuaEngine struct {
	mu     sync.Mutex
	state  *lua.LState
	config Config
}

// NewLuaEngine creates a Lua engine with the given configuration.
func NewLuaEngine(config Config) (*LuaEngine, error) {
	L := lua.NewState()

	if config.EnableSandboxing {
		setupSandbox(L)
	} else {
		L.OpenLibs()
	}

	registerAPIFunctions(L)

	return &LuaEngine{
		state:  L,
		config: config,
	}, nil
}

// LoadScript loads a Lua script with the given name and content.
func (e *LuaEngine) LoadScript(name string, content []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.state.DoString(string(content)); err != nil {
		return fmt.Errorf("failed to load script %s: %w", name, err)
	}

	log.Debug("Loaded Lua script", "name", name, "bytes", len(content))
	return nil
}

// LoadScriptFile loads a Lua script from a file path.
func (e *LuaEngine) LoadScriptFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script file %s: %w", path, err)
	}
	return e.LoadScript(filepath.Base(path), content)
}

// LoadScriptDir loads all .lua files from a directory, in name order so
// load behavior does not depend on directory listing order.
func (e *LuaEngine) LoadScriptDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read script directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if err := e.LoadScriptFile(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteFunction calls a previously loaded Lua function with the given
// arguments and converts the first return value back to Go.
func (e *LuaEngine) ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.state.GetGlobal(funcName)
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, funcName)
	}

	if e.config.ScriptTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.config.ScriptTimeoutMs)*time.Millisecond)
		defer cancel()
	}
	e.state.SetContext(ctx)
	defer e.state.RemoveContext()

	luaArgs := make([]lua.LValue, len(args))
	for i, arg := range args {
		luaArgs[i] = convertGoToLua(e.state, arg)
	}

	if err := e.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, luaArgs...); err != nil {
		return nil, fmt.Errorf("failed to execute function %s: %w", funcName, err)
	}

	result := e.state.Get(-1)
	e.state.Pop(1)

	return convertLuaToGo(result), nil
}

// Close releases the underlying Lua state.
func (e *LuaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Close()
	return nil
}

// convertGoToLua converts a Go value to a Lua value.
func convertGoToLua(L *lua.LState, value interface{}) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case time.Time:
		return lua.LString(v.UTC().Format(time.RFC3339))
	case []interface{}:
		table := L.NewTable()
		for _, item := range v {
			table.Append(convertGoToLua(L, item))
		}
		return table
	case []string:
		table := L.NewTable()
		for _, item := range v {
			table.Append(lua.LString(item))
		}
		return table
	case []map[string]interface{}:
		table := L.NewTable()
		for _, item := range v {
			table.Append(convertGoToLua(L, item))
		}
		return table
	case map[string]interface{}:
		table := L.NewTable()
		for key, item := range v {
			table.RawSetString(key, convertGoToLua(L, item))
		}
		return table
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// convertLuaToGo converts a Lua value to a Go value. Tables with only
// consecutive integer keys become slices; everything else becomes a map.
func convertLuaToGo(value lua.LValue) interface{} {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return float64(v)
	case *lua.LTable:
		return convertLuaTable(v)
	default:
		return v.String()
	}
}

func convertLuaTable(table *lua.LTable) interface{} {
	maxN := table.MaxN()
	if maxN > 0 && table.Len() == maxN {
		slice := make([]interface{}, 0, maxN)
		isArray := true
		table.ForEach(func(key, _ lua.LValue) {
			if _, ok := key.(lua.LNumber); !ok {
				isArray = false
			}
		})
		if isArray {
			for i := 1; i <= maxN; i++ {
				slice = append(slice, convertLuaToGo(table.RawGetInt(i)))
			}
			return slice
		}
	}

	result := make(map[string]interface{})
	table.ForEach(func(key, item lua.LValue) {
		result[key.String()] = convertLuaToGo(item)
	})
	return result
}
