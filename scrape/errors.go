package scrape

import (
	"errors"
	"fmt"
	"strings"
)

// Error wraps a scrape failure with its retry classification. Transient
// failures leave the campaign page eligible for the next periodic rescrape
// pass; permanent failures park the page until the daily reset.
type Error struct {
	Link      string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("scrape %s (%s): %v", e.Link, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a scrape failure worth retrying on the
// next rescrape pass. Unclassified errors count as transient so a flaky page
// is not written off for the whole day.
func IsTransient(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Transient
	}
	return true
}

// classifyTransient decides the retry class from the error text.
//
// Permanent (skip until the daily reset):
// - content gone (404, 410, not found)
// - access denied (401, 403)
// - malformed page or URL
//
// Transient (retry on the next rescrape pass):
// - network failures (reset, refused, timeout, DNS)
// - server errors (500, 502, 503, 504)
// - rate limiting (429)
// - anything unrecognized
func classifyTransient(err error) bool {
	if err == nil {
		return true
	}
	lower := strings.ToLower(err.Error())

	// Server errors before the generic not-found patterns so that
	// "service unavailable" is not misread as content gone.
	if strings.Contains(lower, "500") ||
		strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") ||
		strings.Contains(lower, "504") ||
		strings.Contains(lower, "internal server error") ||
		strings.Contains(lower, "bad gateway") ||
		strings.Contains(lower, "service unavailable") ||
		strings.Contains(lower, "gateway timeout") {
		return true
	}

	permanentPatterns := []string{
		"404",
		"410",
		"not found",
		"gone",
		"401",
		"403",
		"forbidden",
		"unauthorized",
		"access denied",
		"invalid url",
		"malformed",
		"unsupported protocol",
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}

	return true
}

// newError builds a classified Error for a failed scrape of link.
func newError(link string, err error) *Error {
	return &Error{Link: link, Transient: classifyTransient(err), Err: err}
}
