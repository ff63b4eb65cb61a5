package eta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/job-dispatch/internal/models"
)

// HTTPRoutingClient posts {from,to} to the routing service and expects
// {distanceMeters,durationSeconds} back.
type HTTPRoutingClient struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPRoutingClient(endpoint string) *HTTPRoutingClient {
	return &HTTPRoutingClient{Endpoint: endpoint, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (c *HTTPRoutingClient) Route(ctx context.Context, from, to models.Coord) (RouteResult, error) {
	body, err := json.Marshal(map[string]models.Coord{"from": from, "to": to})
	if err != nil {
		return RouteResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return RouteResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return RouteResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return RouteResult{}, fmt.Errorf("routing service status %d", resp.StatusCode)
	}
	var out RouteResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RouteResult{}, fmt.Errorf("routing service payload: %w", err)
	}
	if out.DistanceMeters <= 0 || out.DurationSeconds <= 0 {
		return RouteResult{}, fmt.Errorf("routing service returned empty route")
	}
	return out, nil
}
