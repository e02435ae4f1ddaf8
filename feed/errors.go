package feed

import "fmt"

// FetchError reports that the feed could not be retrieved from its source.
// It is fatal at startup; there is no retry.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch feed %q: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FormatError reports a malformed feed. Line is 1-based; zero means the
// problem is not tied to a single line.
type FormatError struct {
	Line   int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed feed at line %d: %s", e.Line, e.Reason)
	}
	return "malformed feed: " + e.Reason
}
