package out

import "context"

// HTTPProber probes an HTTP endpoint and reports the status code and
// response time in milliseconds.
type HTTPProber interface {
	Probe(ctx context.Context, url string) (int, int64, error)
}
