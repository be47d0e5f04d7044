package proxy

import "errors"

// ErrInvalidRoute is returned for routes that cannot be rendered.
var ErrInvalidRoute = errors.New("invalid route")
