package provider

import "errors"

// ErrUnavailable marks transport-level failures (connection refused, DNS,
// timeout, 5xx after retries). Callers match with errors.Is to distinguish
// "backend unreachable" from malformed requests or declined generations.
var ErrUnavailable = errors.New("provider unavailable")
