package web

import (
	"net/http"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/umputun/wirecutter/app/queue"
	"github.com/umputun/wirecutter/app/store"
)

// payloadSchemas maps schema names to request payload types.
// Rank and status requests are arrays of rank-entry and status-entry.
var payloadSchemas = map[string]struct {
	v           any
	description string
}{
	"job":          {&queue.JobFields{}, "payload for POST /api/v1/mcp101"},
	"job-update":   {&queue.JobUpdate{}, "payload for PUT /api/v1/mcp101/{id}"},
	"rank-entry":   {&queue.RankEntry{}, "element of the array posted to /api/v1/mcp101/rank"},
	"status-entry": {&queue.StatusEntry{}, "element of the array posted to /api/v1/mcp101/status"},
}

// GenerateSchema generates a JSON schema for the named request payload
func GenerateSchema(name string) (*jsonschema.Schema, bool) {
	p, ok := payloadSchemas[name]
	if !ok {
		return nil, false
	}
	schema := jsonschema.Reflect(p.v)
	schema.Title = "wirecutter " + name
	schema.Description = p.description
	return schema, true
}

// handleSchema returns the JSON schema of a request payload
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, ok := GenerateSchema(r.PathValue("name"))
	if !ok {
		names := make([]string, 0, len(payloadSchemas))
		for n := range payloadSchemas {
			names = append(names, n)
		}
		sort.Strings(names)
		s.writeJSONError(w, http.StatusNotFound, store.KindNotFound, "unknown schema, expected one of: "+strings.Join(names, ", "))
		return
	}
	s.writeJSON(w, http.StatusOK, schema)
}
