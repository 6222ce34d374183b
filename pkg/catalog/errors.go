package catalog

import "errors"

// ErrFiltered is returned by item constructors for records that are
// intentionally dropped (wrong channel, hidden premium content). The
// walker skips such records without logging them as failures.
var ErrFiltered = errors.New("record filtered")

// ExtractionError means the structured document couldn't be located or
// parsed in the raw response body. It aborts processing of that one
// fetch only; the surrounding walk continues.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return "Couldn't extract structured data: " + e.Reason
}
