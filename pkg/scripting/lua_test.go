package scripting

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLuaEngine_LoadScript(t *testing.T) {
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	err = engine.LoadScript("test", []byte(`
		function hello()
			return "Hello, World!"
		end
	`))
	assert.NoError(t, err)

	err = engine.LoadScript("invalid", []byte(`
		function invalid(
			return "This is not valid Lua"
		end
	`))
	assert.Error(t, err)
}

func TestLuaEngine_ExecuteFunction(t *testing.T) {
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	err = engine.LoadScript("test", []byte(`
		function hello()
			return "Hello, World!"
		end

		function add(a, b)
			return a + b
		end

		function get_table()
			return {
				name = "test",
				value = 123,
				nested = {
					key = "value"
				}
			}
		end

		function use_args(args)
			return args.name .. " is " .. args.age
		end
	`))
	require.NoError(t, err)

	t.Run("string return", func(t *testing.T) {
		result, err := engine.ExecuteFunction(context.Background(), "hello")
		assert.NoError(t, err)
		assert.Equal(t, "Hello, World!", result)
	})

	t.Run("with arguments", func(t *testing.T) {
		result, err := engine.ExecuteFunction(context.Background(), "add", 5, 3)
		assert.NoError(t, err)
		assert.Equal(t, float64(8), result)
	})

	t.Run("table return", func(t *testing.T) {
		result, err := engine.ExecuteFunction(context.Background(), "get_table")
		assert.NoError(t, err)

		resultMap, ok := result.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "test", resultMap["name"])
		assert.Equal(t, float64(123), resultMap["value"])

		nestedMap, ok := resultMap["nested"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "value", nestedMap["key"])
	})

	t.Run("map argument", func(t *testing.T) {
		args := map[string]interface{}{
			"name": "John",
			"age":  30,
		}
		result, err := engine.ExecuteFunction(context.Background(), "use_args", args)
		assert.NoError(t, err)
		assert.Equal(t, "John is 30", result)
	})

	t.Run("non-existent function", func(t *testing.T) {
		_, err := engine.ExecuteFunction(context.Background(), "nonexistent")
		assert.ErrorIs(t, err, ErrFunctionNotFound)
	})
}

func TestLuaEngine_Sandboxing(t *testing.T) {
	engine, err := NewLuaEngine(Config{
		EnableSandboxing: true,
		ScriptTimeoutMs:  1000,
	})
	require.NoError(t, err)
	defer engine.Close()

	err = engine.LoadScript("sandbox_test", []byte(`
		function test_os()
			if os == nil then
				return "os is nil"
			end
			return "os is available"
		end

		function test_io()
			if io == nil then
				return "io is nil"
			end
			return "io is available"
		end

		function test_require()
			if require == nil then
				return "require is nil"
			end
			return "require is available"
		end
	`))
	require.NoError(t, err)

	result, err := engine.ExecuteFunction(context.Background(), "test_os")
	assert.NoError(t, err)
	assert.Equal(t, "os is nil", result)

	result, err = engine.ExecuteFunction(context.Background(), "test_io")
	assert.NoError(t, err)
	assert.Equal(t, "io is nil", result)

	result, err = engine.ExecuteFunction(context.Background(), "test_require")
	assert.NoError(t, err)
	assert.Equal(t, "require is nil", result)
}

func TestLuaEngine_APIFunctions(t *testing.T) {
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	err = engine.LoadScript("api_test", []byte(`
		function get_uuid()
			return recall.uuid()
		end

		function roundtrip_json()
			local encoded = recall.json_encode({kind = "note", weight = 2})
			local decoded = recall.json_decode(encoded)
			return decoded.kind
		end

		function format_epoch()
			return recall.format_time(0, "2006-01-02")
		end
	`))
	require.NoError(t, err)

	result, err := engine.ExecuteFunction(context.Background(), "get_uuid")
	require.NoError(t, err)
	assert.Len(t, result, 36)

	result, err = engine.ExecuteFunction(context.Background(), "roundtrip_json")
	require.NoError(t, err)
	assert.Equal(t, "note", result)

	result, err = engine.ExecuteFunction(context.Background(), "format_epoch")
	require.NoError(t, err)
	assert.Equal(t, "1970-01-01", result)
}

func TestLuaEngine_LoadScriptFile(t *testing.T) {
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	scriptPath := filepath.Join(t.TempDir(), "test.lua")
	err = os.WriteFile(scriptPath, []byte(`
		function file_test()
			return "File loaded successfully"
		end
	`), 0600)
	require.NoError(t, err)

	err = engine.LoadScriptFile(scriptPath)
	require.NoError(t, err)

	result, err := engine.ExecuteFunction(context.Background(), "file_test")
	assert.NoError(t, err)
	assert.Equal(t, "File loaded successfully", result)
}

func TestLuaEngine_LoadScriptDir(t *testing.T) {
	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	tmpDir := t.TempDir()

	err = os.WriteFile(filepath.Join(tmpDir, "script1.lua"), []byte(`
		function script1_test()
			return "Script 1"
		end
	`), 0600)
	require.NoError(t, err)

	err = os.WriteFile(filepath.Join(tmpDir, "script2.lua"), []byte(`
		function script2_test()
			return "Script 2"
		end
	`), 0600)
	require.NoError(t, err)

	// Non-Lua files are ignored
	err = os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("not a script"), 0600)
	require.NoError(t, err)

	err = engine.LoadScriptDir(tmpDir)
	require.NoError(t, err)

	result, err := engine.ExecuteFunction(context.Background(), "script1_test")
	assert.NoError(t, err)
	assert.Equal(t, "Script 1", result)

	result, err = engine.ExecuteFunction(context.Background(), "script2_test")
	assert.NoError(t, err)
	assert.Equal(t, "Script 2", result)
}
