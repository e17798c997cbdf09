package remote

import (
	"net/http"

	"golang.org/x/time/rate"
)

// rateLimitedTransport caps outbound request rate against one tenant-side
// service, the way this repository's Connection Pool backs off a failing
// peer with a circuit breaker; tenant HTTP services get no comparable
// protection of their own from a misbehaving validator pipeline.
type rateLimitedTransport struct {
	limiter *rate.Limiter
	base    http.RoundTripper
}

// wrapWithRateLimit installs a token-bucket limiter (ratePerSecond, burst)
// on client's transport and returns it.
func wrapWithRateLimit(client *http.Client, ratePerSecond float64, burst int) *http.Client {
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = &rateLimitedTransport{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst), base: base}
	return client
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
