package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vbonduro/imagelab/internal/domain"
)

type HealthStatus struct {
	Service  domain.ServiceID
	Endpoint string
	Err      error
}

func (h HealthStatus) OK() bool { return h.Err == nil }

// healthURL returns the /health route on the same origin as endpoint.
func healthURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	u.Path = "/health"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func (c *Client) Health(ctx context.Context, id domain.ServiceID) HealthStatus {
	d, err := c.registry.Resolve(id)
	if err != nil {
		return HealthStatus{Service: id, Err: err}
	}
	target, err := healthURL(d.EndpointURL)
	if err != nil {
		return HealthStatus{Service: id, Endpoint: d.EndpointURL, Err: &NetworkError{Service: id, Endpoint: d.EndpointURL, Err: err}}
	}
	_, err = c.send(ctx, id, http.MethodGet, target, "", nil)
	return HealthStatus{Service: id, Endpoint: target, Err: err}
}

// HealthAll probes every registered service in display order.
func (c *Client) HealthAll(ctx context.Context) []HealthStatus {
	all := c.registry.All()
	out := make([]HealthStatus, 0, len(all))
	for _, d := range all {
		out = append(out, c.Health(ctx, d.ID))
	}
	return out
}
