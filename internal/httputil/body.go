// Package httputil holds small, dependency-free helpers shared by the
// gateway's inbound and outbound HTTP paths.
package httputil

import (
	"errors"
	"io"
)

// DefaultMaxResponseBodyBytes bounds how much of a single upstream response
// (or, in the gateway's Proxy handler, an inbound request) is buffered into
// memory before the reference engine can walk it. A runaway or malicious
// backend shouldn't be able to exhaust the gateway's memory through one call.
const DefaultMaxResponseBodyBytes int64 = 10 * 1024 * 1024

// ErrResponseBodyTooLarge is returned by ReadLimitedBody when reader produced
// more than maxBytes.
var ErrResponseBodyTooLarge = errors.New("httputil: response body exceeds limit")

// ReadLimitedBody reads reader fully, failing with ErrResponseBodyTooLarge if
// it would exceed maxBytes. maxBytes <= 0 disables the limit entirely (used
// by callers, such as tests, that already trust the source).
//
// The returned byte slice is populated even on ErrResponseBodyTooLarge,
// truncated to maxBytes, so callers that want to log a snippet of an
// oversized body don't need a second read.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	// Read one byte past the limit so an exactly-maxBytes body isn't
	// mistaken for an oversized one.
	body, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) <= maxBytes {
		return body, nil
	}
	return body[:maxBytes], ErrResponseBodyTooLarge
}
