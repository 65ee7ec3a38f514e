package scraper

import "fmt"

// ValidationError is raised when extraction produced an unusable
// record: a page fetched fine but yielded no name or brand, or a name
// that is itself a block-page artifact. Never retried.
type ValidationError struct {
	URL    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid data from %s: %s", e.URL, e.Reason)
}
