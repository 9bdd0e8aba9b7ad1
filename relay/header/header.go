// Package header provides header filtering for the matchbot relay.
//
// The relay sits between a web client and the platform's chat function:
//
//	Client <--> Relay <--> Platform function
//
// and headers are handled accordingly as each leg negotiates compression,
// hops and credentials independently.
package header

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	// RequestIDHeader correlates a relayed exchange across both legs.
	RequestIDHeader = "X-Request-Id"

	// RelayHeader is set on every relayed response.
	RelayHeader = "X-Matchbot-Relay"
)

// Handler manages headers between relay connections.
type Handler struct{}

// NewHandler creates a new header Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// skipRequest is the set of request headers (client --> relay --> upstream)
// that are not forwarded to the platform.
var skipRequest = map[string]struct{}{
	// Hop-by-hop headers: only meaningful for a single transport-level connection.
	"Connection": {},

	// Rewritten by http.Transport to match the upstream URL.
	"Host": {},

	// Stripped so http.Transport negotiates gzip itself and transparently
	// decompresses the upstream response.
	"Accept-Encoding": {},

	// Browser-only headers the platform function has no use for.
	"Origin":  {},
	"Referer": {},
	"Cookie":  {},
}

// skipResponse is the set of upstream response headers (client <-- relay <-- upstream)
// that are not copied back to the downstream client.
var skipResponse = map[string]struct{}{
	"Connection":        {},
	"Transfer-Encoding": {},

	// The relay always reads a decompressed body.
	"Content-Encoding": {},

	// Recomputed by fiber for the client leg.
	"Content-Length": {},

	// CORS is answered by the relay, not the platform.
	"Access-Control-Allow-Origin":      {},
	"Access-Control-Allow-Credentials": {},
}

// SetUpstreamRequestHeaders copies request headers from the Fiber context to
// the outgoing http.Request, filtering headers that the relay should not
// forward to the platform.
func (h *Handler) SetUpstreamRequestHeaders(c *fiber.Ctx, req *http.Request) {
	c.Request().Header.VisitAll(func(key, value []byte) {
		k := string(key)
		if _, skip := skipRequest[k]; !skip {
			req.Header.Set(k, string(value))
		}
	})
}

// SetAuthorization injects a bearer credential unless the client already
// supplied its own. It reports whether the header was injected.
func (h *Handler) SetAuthorization(req *http.Request, apiKey string) bool {
	if apiKey == "" || strings.TrimSpace(req.Header.Get("Authorization")) != "" {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return true
}

// SetClientResponseHeaders copies response headers from the upstream
// http.Response to the Fiber context, filtering headers that the relay should
// not forward back down to the client.
func (h *Handler) SetClientResponseHeaders(c *fiber.Ctx, resp *http.Response) {
	for k, v := range resp.Header {
		if _, skip := skipResponse[k]; !skip {
			c.Set(k, strings.Join(v, ", "))
		}
	}
	c.Set(RelayHeader, "1")
}
