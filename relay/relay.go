// Package relay provides a streaming relay in front of the platform's chat
// function. Browser clients talk to the relay without holding the platform
// key; the relay injects it, forwards the event stream verbatim and records
// one telemetry event per exchange.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/papercomputeco/matchbot/pkg/chat"
	"github.com/papercomputeco/matchbot/pkg/eventstream"
	"github.com/papercomputeco/matchbot/pkg/eventstream/nop"
	"github.com/papercomputeco/matchbot/pkg/llm"
	"github.com/papercomputeco/matchbot/pkg/logger"
	"github.com/papercomputeco/matchbot/pkg/sse"
	"github.com/papercomputeco/matchbot/pkg/utils"
	"github.com/papercomputeco/matchbot/pkg/worker"
	"github.com/papercomputeco/matchbot/relay/header"
)

const (
	functionsPath     = "/functions/v1/:name"
	healthPath        = "/healthz"
	defaultTimeout    = 5 * time.Minute
	maxUpstreamErrLen = 64 << 10

	componentRelay = "relay"
)

// Relay is a transparent streaming relay for the chat function.
type Relay struct {
	config        Config
	workerPool    *worker.Pool
	logger        *slog.Logger
	httpClient    *http.Client
	server        *fiber.App
	headerHandler *header.Handler

	keyMu  sync.RWMutex
	apiKey string
}

// New creates a new Relay and starts its telemetry worker pool.
func New(config Config, log *slog.Logger) (*Relay, error) {
	if config.UpstreamURL == "" {
		return nil, errors.New("upstream URL is required")
	}
	if config.Function == "" {
		return nil, errors.New("function name is required")
	}
	if _, err := chat.FunctionURL(config.UpstreamURL, config.Function); err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.AllowOrigins == "" {
		config.AllowOrigins = "*"
	}
	if log == nil {
		log = logger.Nop()
	}

	publisher := config.Publisher
	if publisher == nil {
		publisher = nop.NewPublisher()
	}

	wp, err := worker.NewPool(&worker.Config{
		Publisher: publisher,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StreamRequestBody:     true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: config.AllowOrigins,
		AllowHeaders: "Authorization, Content-Type, Accept, X-Request-Id, apikey, x-client-info",
		AllowMethods: "GET,POST,OPTIONS",
	}))
	app.Use(compress.New())

	r := &Relay{
		config:        config,
		workerPool:    wp,
		logger:        log,
		server:        app,
		headerHandler: header.NewHandler(),
		apiKey:        config.APIKey,
		// Exchanges are bounded by a per-request context.
		httpClient: &http.Client{},
	}

	app.Get(healthPath, r.handleHealth)
	app.Post(functionsPath, r.handleFunction)

	return r, nil
}

// SetAPIKey replaces the injected credential for subsequent requests.
func (r *Relay) SetAPIKey(key string) {
	r.keyMu.Lock()
	defer r.keyMu.Unlock()
	r.apiKey = key
}

func (r *Relay) key() string {
	r.keyMu.RLock()
	defer r.keyMu.RUnlock()
	return r.apiKey
}

// Run starts the relay server on the configured listening address.
func (r *Relay) Run() error {
	r.logger.Info("starting relay server",
		"listen", r.config.ListenAddr,
		"upstream", r.config.UpstreamURL,
		"function", r.config.Function,
	)

	return r.server.Listen(r.config.ListenAddr)
}

// RunWithListener starts the relay server using the provided listener.
func (r *Relay) RunWithListener(listener net.Listener) error {
	r.logger.Info("starting relay server",
		"listen", listener.Addr().String(),
		"upstream", r.config.UpstreamURL,
		"function", r.config.Function,
	)

	return r.server.Listener(listener)
}

// Handler exposes the relay as a net/http handler. Streamed bodies are
// buffered by the adaptor, so prefer Run for interactive clients.
func (r *Relay) Handler() http.Handler {
	return adaptor.FiberApp(r.server)
}

// Close gracefully shuts down the relay and waits for pending telemetry to
// drain.
func (r *Relay) Close() error {
	err := r.server.Shutdown()
	r.workerPool.Close()
	return err
}

func (r *Relay) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"function": r.config.Function,
	})
}

// handleFunction forwards a chat request to the platform function and
// streams the response back.
func (r *Relay) handleFunction(c *fiber.Ctx) error {
	name := c.Params("name")
	if name != r.config.Function {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": fmt.Sprintf("unknown function %q", name)})
	}

	rec := &record{
		requestID: c.Get(header.RequestIDHeader),
		startedAt: time.Now(),
	}
	if rec.requestID == "" {
		rec.requestID = uuid.NewString()
	}

	upstreamURL, err := chat.FunctionURL(r.config.UpstreamURL, name)
	if err != nil {
		r.logger.Error("building upstream URL", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	// fasthttp recycles the request context when the handler returns, but the
	// stream is copied from a separate goroutine afterwards.
	ctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout)
	body := bytes.Clone(c.Body())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(body))
	if err != nil {
		cancel()
		r.logger.Error("failed to create upstream request", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	r.headerHandler.SetUpstreamRequestHeaders(c, httpReq)
	httpReq.Header.Set(header.RequestIDHeader, rec.requestID)
	injected := r.headerHandler.SetAuthorization(httpReq, r.key())

	r.logger.Debug("forwarding request to upstream",
		"url", upstreamURL,
		"request_id", rec.requestID,
		"injected_key", injected,
	)

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		r.logger.Error("upstream request failed", "error", err, "request_id", rec.requestID)
		rec.fail(0, err)
		r.enqueue(rec)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream request failed"})
	}
	rec.status = httpResp.StatusCode

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer cancel()
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxUpstreamErrLen))
		r.logger.Error("upstream returned error",
			"status", httpResp.StatusCode,
			"body", utils.Truncate(string(respBody), 256),
			"request_id", rec.requestID,
		)
		rec.fail(httpResp.StatusCode, errors.New(llm.ErrorMessage(respBody)))
		r.enqueue(rec)

		r.headerHandler.SetClientResponseHeaders(c, httpResp)
		return c.Status(httpResp.StatusCode).Send(respBody)
	}

	r.headerHandler.SetClientResponseHeaders(c, httpResp)
	c.Set(header.RequestIDHeader, rec.requestID)
	c.Status(httpResp.StatusCode)

	// io.Pipe gives per-chunk backpressure: pw.Write blocks until fasthttp's
	// chunked body writer has consumed and flushed the bytes.
	pr, pw := io.Pipe()
	go func() {
		defer cancel()
		r.pipeStream(httpResp, pw, rec)
	}()

	// Unknown size (-1) selects chunked transfer encoding.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

// pipeStream copies the upstream body to the client verbatim while counting
// frames for telemetry.
func (r *Relay) pipeStream(httpResp *http.Response, pw *io.PipeWriter, rec *record) {
	defer httpResp.Body.Close()

	cw := &countingWriter{w: pw}
	tr := sse.NewTeeReader(httpResp.Body, cw)

	var streamErr error
	for {
		frame, err := tr.Next()
		if err != nil {
			streamErr = err
			break
		}
		if frame == nil {
			break
		}

		switch frame.Kind {
		case sse.FrameDone:
			rec.sawDone = true
		case sse.FrameData:
			if _, err := llm.ParseDelta([]byte(frame.Payload)); err != nil {
				rec.malformed++
				r.logger.Warn("malformed frame relayed",
					"request_id", rec.requestID,
					"error", err,
				)
				continue
			}
			rec.frames++
		}
	}
	rec.bytes = cw.n

	switch {
	case errors.Is(streamErr, io.ErrClosedPipe):
		r.logger.Info("client went away mid stream", "request_id", rec.requestID)
		rec.outcome = chat.StateCancelled
		rec.err = streamErr
	case streamErr != nil:
		r.logger.Error("error relaying stream", "error", streamErr, "request_id", rec.requestID)
		rec.fail(rec.status, streamErr)
		pw.CloseWithError(streamErr)
	default:
		rec.outcome = chat.StateCompleted
		pw.Close()
	}

	r.logger.Debug("stream relayed",
		"request_id", rec.requestID,
		"frames", rec.frames,
		"malformed", rec.malformed,
		"bytes", rec.bytes,
		"saw_done", rec.sawDone,
		"duration", time.Since(rec.startedAt),
	)
	r.enqueue(rec)
}

func (r *Relay) enqueue(rec *record) {
	r.workerPool.Enqueue(worker.Job{Event: rec.event(r.config.Function)})
}

// record accumulates what the relay observed about one exchange.
type record struct {
	requestID string
	startedAt time.Time
	status    int
	outcome   chat.State
	frames    int
	malformed int
	bytes     int64
	sawDone   bool
	err       error
}

func (rec *record) fail(status int, err error) {
	rec.status = status
	rec.outcome = chat.StateFailed
	rec.err = err
}

func (rec *record) event(function string) *eventstream.ExchangeEvent {
	meta := eventstream.ExchangeMeta{
		RequestID:  rec.requestID,
		Outcome:    rec.outcome.String(),
		HTTPStatus: rec.status,
		StartedAt:  rec.startedAt.UTC(),
		DurationMs: time.Since(rec.startedAt).Milliseconds(),
		Frames:     rec.frames,
		Malformed:  rec.malformed,
		Bytes:      rec.bytes,
		SawDone:    rec.sawDone,
	}
	if rec.err != nil {
		meta.Error = rec.err.Error()
	}

	return eventstream.NewExchangeEvent(
		eventstream.EventSource{Component: componentRelay, Function: function},
		meta,
	)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
