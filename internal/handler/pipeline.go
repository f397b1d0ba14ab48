package handler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/internal/reactor"
)

// Enqueuer is the subset of the Disk Queue the Pipeline handler needs: it
// re-dispatches by enqueueing a new MasterMessage, never sending directly.
type Enqueuer interface {
	Add(item types.WorkItem) (uint64, error)
}

// call is one configured re-dispatch entry: query becomes the new
// message's scheme, context's JSONPath-resolved values become its
// context_query.
type call struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
}

// Pipeline constructs new MasterMessages from a list of {query, context}
// entries configured on the matched event, resolving each context value as
// a JSONPath expression against the response's data, then enqueues the
// resulting message on the Disk Queue for later broadcast.
type Pipeline struct {
	lg *zap.Logger
	q  Enqueuer
}

func NewPipeline(lg *zap.Logger, q Enqueuer) *Pipeline { return &Pipeline{lg: lg, q: q} }

func (h *Pipeline) ID() string { return "pipeline" }

func (h *Pipeline) Handle(ev reactor.Evaluated, cfg map[string]any) error {
	calls := parseCalls(cfg)
	verbose, _ := cfg["verbose"].(bool)

	for _, c := range calls {
		ctxQuery := resolveContext(c.Context, ev.Response.Data, h.lg, verbose)

		target := types.MinionTarget{
			Hostnames:    []string{"*"},
			Scheme:       c.Query,
			ContextQuery: ctxQuery,
		}
		msg := types.MasterMessage{
			CycleID: uuid.NewString(),
			Target:  target,
			Request: types.RequestCommand,
		}

		if _, err := h.q.Add(types.NewMasterCommandItem(msg)); err != nil {
			h.lg.Error("pipeline: enqueue failed", zap.Error(err))
			return err
		}
		if verbose {
			h.lg.Info("pipeline: added call", zap.String("query", c.Query))
		}
	}
	return nil
}

func parseCalls(cfg map[string]any) []call {
	raw, ok := cfg["calls"].([]any)
	if !ok {
		return nil
	}
	calls := make([]call, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := call{}
		if q, ok := m["query"].(string); ok {
			c.Query = q
		}
		if ctx, ok := m["context"].(map[string]any); ok {
			c.Context = ctx
		}
		calls = append(calls, c)
	}
	return calls
}

// resolveContext evaluates every context value as a JSONPath over data,
// substitutes the resolved scalar back in, and joins the result, in sorted
// key order, into a comma-separated "key:value" context_query string.
func resolveContext(context map[string]any, data map[string]any, lg *zap.Logger, verbose bool) string {
	if len(context) == 0 {
		return ""
	}

	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		path, _ := context[k].(string)
		resolved := scalarToString(path)
		if path != "" {
			if v, err := jsonpath.Get(path, data); err == nil {
				resolved = scalarToString(v)
			}
		}
		if verbose {
			lg.Info("pipeline: setting context variable", zap.String("key", k), zap.String("value", resolved))
		}
		parts = append(parts, fmt.Sprintf("%s:%s", k, quoteIfNeeded(resolved)))
	}
	return strings.Join(parts, ",")
}

func scalarToString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimRight(t, " ")
	case float64:
		return fmt.Sprintf("%v", t)
	case bool:
		return fmt.Sprintf("%v", t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// quoteIfNeeded single-quotes a value unless it's made entirely of
// characters that are safe unquoted in a context_query term.
func quoteIfNeeded(s string) string {
	safe := s != ""
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '_' || r == '-' || r == '/') {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
