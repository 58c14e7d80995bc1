package scripting

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/agenttown/recall/pkg/log"
)

// registerAPIFunctions registers Go functions that are available to Lua
// scripts under the global "recall" table.
func registerAPIFunctions(L *lua.LState) {
	recall := L.NewTable()

	L.SetField(recall, "log", L.NewFunction(apiLog))
	L.SetField(recall, "now", L.NewFunction(apiNow))
	L.SetField(recall, "format_time", L.NewFunction(apiFormatTime))
	L.SetField(recall, "uuid", L.NewFunction(apiUUID))
	L.SetField(recall, "json_encode", L.NewFunction(apiJSONEncode))
	L.SetField(recall, "json_decode", L.NewFunction(apiJSONDecode))

	L.SetGlobal("recall", recall)
}

// apiLog logs a message from Lua at the requested level.
func apiLog(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	switch level {
	case "debug":
		log.Debug("Lua script message", "message", message)
	case "warn", "warning":
		log.Warn("Lua script message", "message", message)
	case "error":
		log.Error("Lua script message", "message", message)
	default:
		log.Info("Lua script message", "message", message)
	}

	return 0
}

// apiNow returns the current time as a Unix timestamp.
func apiNow(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().Unix()))
	return 1
}

// apiFormatTime formats a Unix timestamp as a string.
func apiFormatTime(L *lua.LState) int {
	timestamp := L.CheckNumber(1)
	format := L.OptString(2, time.RFC3339)

	t := time.Unix(int64(timestamp), 0).UTC()
	L.Push(lua.LString(t.Format(format)))
	return 1
}

// apiUUID generates a random UUID string.
func apiUUID(L *lua.LState) int {
	L.Push(lua.LString(uuid.New().String()))
	return 1
}

// apiJSONEncode encodes a Lua value to a JSON string.
func apiJSONEncode(L *lua.LState) int {
	value := convertLuaToGo(L.CheckAny(1))

	encoded, err := json.Marshal(value)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	L.Push(lua.LString(encoded))
	return 1
}

// apiJSONDecode decodes a JSON string to a Lua value.
func apiJSONDecode(L *lua.LState) int {
	raw := L.CheckString(1)

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	L.Push(convertGoToLua(L, value))
	return 1
}
