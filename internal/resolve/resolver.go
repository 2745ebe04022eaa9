// Package resolve substitutes {{step_n.output}} references in step
// parameters and expressions against the ordered outputs of prior steps.
package resolve

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Entry is one slot in the ordered results context. Only successful
// entries resolve; a failed or skipped slot keeps the index stable but
// never substitutes.
type Entry struct {
	Success bool `json:"success"`
	Output  any  `json:"output,omitempty"`
}

// Context is the ordered outputs visible to a step. Index 0 is the
// trigger payload when present; step_n references are 1-based.
type Context []Entry

// Lookup returns the output referenced by step_n, or false if the index
// is out of range or the entry was not successful.
func (c Context) Lookup(n int) (any, bool) {
	if n < 1 || n > len(c) {
		return nil, false
	}
	e := c[n-1]
	if !e.Success {
		return nil, false
	}
	return e.Output, true
}

var tokenRe = regexp.MustCompile(`\{\{step_(\d+)\.output\}\}`)

// Params substitutes every resolvable {{step_n.output}} token inside
// params and returns the rewritten map. A token that is the entire value
// of a JSON string is replaced by the referenced output with its
// structure intact; a token embedded in a longer string is replaced by
// its stringified form. Unresolvable tokens are left untouched, so the
// operation is idempotent. The input map is never mutated.
func Params(params map[string]any, rc Context) map[string]any {
	if len(params) == 0 {
		return params
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return params
	}
	rewritten := substitute(string(raw), rc)
	var out map[string]any
	if err := json.Unmarshal([]byte(rewritten), &out); err != nil {
		return params
	}
	return out
}

// String substitutes tokens in a plain (non-JSON) string, replacing each
// resolvable token with the stringified output and leaving misses as-is.
func String(s string, rc Context) string {
	return tokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		n, ok := tokenIndex(tok)
		if !ok {
			return tok
		}
		v, ok := rc.Lookup(n)
		if !ok {
			return tok
		}
		return Stringify(v)
	})
}

// Value resolves a string that must be exactly one token, returning the
// referenced output with its structure intact. Loop items_source uses
// this form.
func Value(ref string, rc Context) (any, bool) {
	trimmed := strings.TrimSpace(ref)
	m := tokenRe.FindStringSubmatch(trimmed)
	if m == nil || m[0] != trimmed {
		return nil, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, false
	}
	return rc.Lookup(n)
}

// substitute rewrites tokens inside a marshaled JSON document. Token
// text cannot contain a double quote, so inside valid JSON every match
// sits within a string literal; the literal is exactly the token when
// the characters on both sides are the delimiting quotes.
func substitute(raw string, rc Context) string {
	matches := tokenRe.FindAllStringSubmatchIndex(raw, -1)
	if matches == nil {
		return raw
	}
	var b strings.Builder
	b.Grow(len(raw))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		n, err := strconv.Atoi(raw[m[2]:m[3]])
		if err != nil {
			continue
		}
		v, ok := rc.Lookup(n)
		if !ok {
			continue
		}
		whole := start > 0 && raw[start-1] == '"' && end < len(raw) && raw[end] == '"'
		if whole {
			b.WriteString(raw[last : start-1])
			b.WriteString(marshalInline(v))
			last = end + 1
		} else {
			b.WriteString(raw[last:start])
			b.WriteString(escapeInline(Stringify(v)))
			last = end
		}
	}
	b.WriteString(raw[last:])
	return b.String()
}

// Stringify renders an output for embedding into a larger string:
// strings pass through, everything else is compact JSON.
func Stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return marshalInline(v)
}

func marshalInline(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// escapeInline JSON-escapes a string for splicing inside an existing
// JSON string literal, without the surrounding quotes.
func escapeInline(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(b[1 : len(b)-1])
}

func tokenIndex(tok string) (int, bool) {
	m := tokenRe.FindStringSubmatch(tok)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
