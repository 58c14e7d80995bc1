package memory

import (
	"context"

	"github.com/agenttown/recall/pkg/errors"
	"github.com/agenttown/recall/pkg/log"
	"github.com/agenttown/recall/pkg/scripting"
)

const (
	// beforeStoreFuncName is the Lua function called before a memory is
	// embedded and persisted
	beforeStoreFuncName = "before_store"

	// afterQueryFuncName is the Lua function called on query results
	// before they are returned
	afterQueryFuncName = "after_query"
)

// callBeforeStoreHook runs the before_store hook if one is loaded. The
// hook sees {agent_id, text, metadata}; returning false vetoes the
// store, returning a table with a "metadata" field replaces the
// metadata. Hook failures are logged and the store proceeds as if no
// hook existed.
func callBeforeStoreHook(
	ctx context.Context,
	engine scripting.Engine,
	agentID string,
	text string,
	metadata map[string]interface{},
) (map[string]interface{}, bool) {
	if engine == nil {
		return metadata, false
	}

	payload := map[string]interface{}{
		"agent_id": agentID,
		"text":     text,
		"metadata": metadata,
	}

	result, err := engine.ExecuteFunction(ctx, beforeStoreFuncName, payload)
	if err != nil {
		if errors.Is(err, scripting.ErrFunctionNotFound) {
			return metadata, false
		}
		log.WarnContext(ctx, "Error calling Lua hook",
			"hook", beforeStoreFuncName,
			"error", err)
		return metadata, false
	}

	if accepted, ok := result.(bool); ok && !accepted {
		return metadata, true
	}

	if resultMap, ok := result.(map[string]interface{}); ok {
		if replacement, ok := resultMap["metadata"].(map[string]interface{}); ok {
			return replacement, false
		}
	}

	return metadata, false
}

// callAfterQueryHook runs the after_query hook if one is loaded. The
// hook sees the result list and returns the subset to keep; it can drop
// results but not invent them. Hook failures are logged and the
// original results are returned.
func callAfterQueryHook(
	ctx context.Context,
	engine scripting.Engine,
	records []Record,
) []Record {
	if engine == nil {
		return records
	}

	luaRecords := make([]map[string]interface{}, len(records))
	for i, record := range records {
		luaRecords[i] = map[string]interface{}{
			"memory_id":  record.ID,
			"agent_id":   record.AgentID,
			"text":       record.Text,
			"metadata":   record.Metadata,
			"score":      record.Score,
			"created_at": record.CreatedAt.Unix(),
		}
	}

	result, err := engine.ExecuteFunction(ctx, afterQueryFuncName, luaRecords)
	if err != nil {
		if errors.Is(err, scripting.ErrFunctionNotFound) {
			return records
		}
		log.WarnContext(ctx, "Error calling Lua hook",
			"hook", afterQueryFuncName,
			"error", err)
		return records
	}

	kept, ok := result.([]interface{})
	if !ok {
		// An empty Lua table converts to a map; treat it as keep-none
		if m, isMap := result.(map[string]interface{}); isMap && len(m) == 0 {
			return []Record{}
		}
		return records
	}

	keep := make(map[string]bool, len(kept))
	for _, item := range kept {
		if entry, ok := item.(map[string]interface{}); ok {
			if id, ok := entry["memory_id"].(string); ok {
				keep[id] = true
			}
		}
	}

	filtered := make([]Record, 0, len(records))
	for _, record := range records {
		if keep[record.ID] {
			filtered = append(filtered, record)
		}
	}
	return filtered
}
