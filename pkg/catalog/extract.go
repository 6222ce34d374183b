package catalog

import (
	"regexp"

	"github.com/tidwall/gjson"
)

// ContentKind tags a rule with the shape of the raw data it handles.
type ContentKind int

const (
	ContentHTML ContentKind = iota
	ContentJSON
)

// The site embeds its whole page state as a JSON assignment inside a
// script block. The fragment ends right before the config assignment.
var initialStateRegex = regexp.MustCompile(`__initialState__=([^<]+);\W+window\.__config__`)

// ExtractEmbeddedJSON pulls the page-state JSON out of an HTML document.
// It returns an *ExtractionError if the marker assignment is absent or
// the fragment between the delimiters isn't valid JSON.
func ExtractEmbeddedJSON(data []byte) ([]byte, error) {
	match := initialStateRegex.FindSubmatch(data)
	if match == nil {
		return nil, &ExtractionError{Reason: "no __initialState__ assignment in HTML"}
	}
	jsonData := match[1]
	if !gjson.ValidBytes(jsonData) {
		return nil, &ExtractionError{Reason: "embedded __initialState__ fragment is not valid JSON"}
	}
	return jsonData, nil
}

// ParseDocument parses raw bytes into a JSON document for path-based
// lookups. For ContentHTML the embedded page state is extracted first.
func ParseDocument(data []byte, kind ContentKind) (gjson.Result, error) {
	if kind == ContentHTML {
		jsonData, err := ExtractEmbeddedJSON(data)
		if err != nil {
			return gjson.Result{}, err
		}
		return gjson.ParseBytes(jsonData), nil
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, &ExtractionError{Reason: "response body is not valid JSON"}
	}
	return gjson.ParseBytes(data), nil
}
