// Package memory orchestrates the write and query paths of the memory
// subsystem: it turns text into vectors through the embedding layer,
// persists them in a vector index partitioned by agent, and shapes
// query results for prompt assembly.
package memory

import (
	"fmt"
	"strings"
	"time"
)

// Record is one stored memory as seen by callers.
type Record struct {
	// ID is the unique memory identifier, assigned at store time
	ID string `json:"memory_id"`

	// AgentID is the owning agent; memories never cross agents
	AgentID string `json:"agent_id"`

	// Text is the memory content
	Text string `json:"text"`

	// Metadata carries caller-supplied fields plus the stamped
	// timestamp, agent_id and memory_id
	Metadata map[string]interface{} `json:"metadata"`

	// Score is the similarity against the query that produced this
	// record; zero outside of query results
	Score float64 `json:"score,omitempty"`

	// CreatedAt is when the memory was stored
	CreatedAt time.Time `json:"created_at"`
}

// promptTimeLayout renders timestamps in a form meant for an LLM prompt
// rather than a machine parser.
const promptTimeLayout = "January 02, 2006 at 15:04"

// FormatForPrompt renders records as a numbered block suitable for
// direct inclusion in an agent's prompt.
func FormatForPrompt(records []Record) string {
	if len(records) == 0 {
		return "You have no specific memories relevant to this situation."
	}

	var b strings.Builder
	b.WriteString("RELEVANT MEMORIES:\n")

	for i, record := range records {
		b.WriteString(fmt.Sprintf("%d. %s (from %s)\n\n", i+1, record.Text, promptTime(record)))
	}

	return b.String()
}

// promptTime prefers the metadata timestamp, which survives backend
// round-trips, and falls back to CreatedAt.
func promptTime(record Record) string {
	if raw, ok := record.Metadata["timestamp"].(string); ok && raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.Format(promptTimeLayout)
		}
		return raw
	}
	if !record.CreatedAt.IsZero() {
		return record.CreatedAt.Format(promptTimeLayout)
	}
	return "unknown time"
}
