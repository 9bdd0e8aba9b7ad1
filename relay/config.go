package relay

import (
	"time"

	"github.com/papercomputeco/matchbot/pkg/eventstream"
)

// Config is the relay server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8787")
	ListenAddr string

	// UpstreamURL is the platform base URL (e.g., "http://localhost:54321").
	// Requests are forwarded to <UpstreamURL>/functions/v1/<Function>.
	UpstreamURL string

	// Function is the only function name the relay serves.
	Function string

	// APIKey is injected as a bearer credential when the client sends none.
	// It can be replaced at runtime with Relay.SetAPIKey.
	APIKey string

	// AllowOrigins is the CORS origin list for browser clients (defaults to "*").
	AllowOrigins string

	// Timeout bounds a whole upstream exchange, stream included.
	Timeout time.Duration

	// Publisher receives one exchange event per relayed request.
	// If nil, events are discarded.
	Publisher eventstream.Publisher
}
