// Package transform holds the stateless image operations behind every image tool.
// Each function takes a decoded image plus parameters and returns a new image or
// encoded bytes; none of them retain state between calls.
package transform

import "errors"

var (
	// ErrDecode marks a corrupt or unreadable source.
	ErrDecode = errors.New("decode failed")
	// ErrEncode marks an encoder failure or an unsupported target format.
	ErrEncode = errors.New("encode failed")
	// ErrInvalidParams marks a parameter combination no transform can satisfy.
	ErrInvalidParams = errors.New("invalid parameters")
)
