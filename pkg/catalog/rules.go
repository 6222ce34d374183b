package catalog

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
)

// MatchType selects how a rule's URL pattern is evaluated.
type MatchType int

const (
	// MatchExact requires the URL to equal the pattern.
	MatchExact MatchType = iota
	// MatchContains requires the URL to contain the pattern as a substring.
	MatchContains
	// MatchAny matches every URL. Used for wildcard fallback rules.
	MatchAny
)

// Preprocessor runs on the raw fetched bytes before extraction. It may
// rewrite the data (e.g. replace an HTML page by JSON fetched from the
// API) and may emit synthetic items, which the walker prepends to the
// extracted ones.
type Preprocessor func(ctx context.Context, req *Request, data []byte) ([]byte, []Item, error)

// Constructor turns one raw record into one item. ErrFiltered means the
// record was intentionally dropped; any other error is logged and the
// record skipped, without aborting its siblings.
type Constructor func(req *Request, record gjson.Result) (*Item, error)

// Selector pairs one extraction path with the constructor for the
// records found there. Missing paths yield no records, not an error.
type Selector struct {
	Path   string
	Create Constructor
}

// Rule is one immutable entry of a channel's dispatch table.
type Rule struct {
	Pattern   string
	Match     MatchType
	Content   ContentKind
	Pre       Preprocessor
	Selectors []Selector
}

// Matches reports whether the rule applies to the given URL and content kind.
func (r *Rule) Matches(url string, kind ContentKind) bool {
	if r.Content != kind {
		return false
	}
	switch r.Match {
	case MatchExact:
		return url == r.Pattern
	case MatchContains:
		return strings.Contains(url, r.Pattern)
	default:
		return true
	}
}

// Rules is an ordered dispatch table. It's built once per channel and
// never mutated afterwards.
type Rules []Rule

// Dispatch selects the first rule matching the URL and content kind, in
// registration order. A miss is not an error: the caller treats the
// data as raw passthrough.
func (rs Rules) Dispatch(url string, kind ContentKind) (*Rule, bool) {
	for i := range rs {
		if rs[i].Matches(url, kind) {
			return &rs[i], true
		}
	}
	return nil, false
}

// DetectContentKind sniffs whether raw response bytes are JSON or HTML.
func DetectContentKind(data []byte) ContentKind {
	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return ContentJSON
	}
	return ContentHTML
}
