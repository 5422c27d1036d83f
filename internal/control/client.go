package control

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client sends shutdown requests to node control endpoints.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

// NewClient creates a control client.
func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: 5 * time.Second},
		log:  logger,
	}
}

// RequestShutdown asks the node behind baseURL to shut down.  Delivery is
// best-effort and fire-and-forget: the request runs in the background and
// the response is discarded.  Whether the node actually stops is observed
// by the supervisor through liveness polling, not here.
func (c *Client) RequestShutdown(node, baseURL string) {
	url := baseURL + "/shutdown"
	c.log.Info().Str("node", node).Str("url", url).Msg("request node shutdown")

	go func() {
		resp, err := c.http.Post(url, "application/json", nil)
		if err != nil {
			c.log.Warn().Str("node", node).Err(err).Msg("shutdown request not delivered")
			return
		}
		resp.Body.Close()
	}()
}
