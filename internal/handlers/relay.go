package handlers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/qdash-dev/copilot/internal/logger"
	"github.com/valyala/fasthttp"
)

const (
	AnalyzeStreamPath = "/api/copilot/analyze/stream"
	ChatStreamPath    = "/api/copilot/chat/stream"

	UpstreamAnalyzePath = "/copilot/analyze/stream"
	UpstreamChatPath    = "/copilot/chat/stream"

	relayChunkSize = 4096
)

// Headers copied from the caller to the upstream request when present.
var forwardedHeaders = []string{"Authorization", "X-Username", "X-Project-Id"}

// RelayHandler pipes copilot stream requests to the internal API and streams
// the answer back chunk by chunk, never buffering the whole response.
type RelayHandler struct {
	upstreamBase string
	client       *http.Client
	// base bounds every upstream call; canceled on server shutdown
	base context.Context
}

// NewRelayHandler creates a relay for the upstream at upstreamBase.
func NewRelayHandler(upstreamBase string) *RelayHandler {
	return &RelayHandler{
		upstreamBase: strings.TrimRight(upstreamBase, "/"),
		// No timeout: streams live as long as the upstream keeps them open
		client: &http.Client{},
		base:   context.Background(),
	}
}

// WithContext bounds upstream calls by ctx.
func (h *RelayHandler) WithContext(ctx context.Context) *RelayHandler {
	h.base = ctx
	return h
}

// WithClient replaces the HTTP client used for upstream calls.
func (h *RelayHandler) WithClient(client *http.Client) *RelayHandler {
	h.client = client
	return h
}

// Register mounts both copilot stream routes on router.
func (h *RelayHandler) Register(router fiber.Router) {
	router.Post(AnalyzeStreamPath, h.Relay(UpstreamAnalyzePath))
	router.Post(ChatStreamPath, h.Relay(UpstreamChatPath))
}

// Relay returns a handler forwarding to upstreamPath. Upstream errors keep
// their status code and body; only the content type is forced to JSON.
func (h *RelayHandler) Relay(upstreamPath string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		log := logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"upstream":   upstreamPath,
		})

		target := h.upstreamBase + upstreamPath
		body := append([]byte(nil), c.Body()...)

		reqCtx, cancel := context.WithCancel(h.base)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			cancel()
			log.Error().Err(err).Msg("❌ failed to build upstream request")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"detail": "failed to build upstream request",
			})
		}

		req.Header.Set("Content-Type", "application/json")
		for _, name := range forwardedHeaders {
			if v := c.Get(name); v != "" {
				req.Header.Set(name, v)
			}
		}

		start := time.Now()
		resp, err := h.client.Do(req)
		if err != nil {
			cancel()
			log.Error().Err(err).Msgf("❌ upstream %s unreachable", target)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"detail": fmt.Sprintf("copilot upstream unreachable: %v", err),
			})
		}

		c.Status(resp.StatusCode)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			log.Warn().Int("status", resp.StatusCode).Msg("upstream returned an error, passing it through")
			if text := statusText(resp); text != "" {
				c.Response().Header.SetStatusMessage([]byte(text))
			}
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		} else {
			c.Set(fiber.HeaderContentType, "text/event-stream")
			c.Set(fiber.HeaderCacheControl, "no-cache, no-transform")
			c.Set(fiber.HeaderConnection, "keep-alive")
			c.Set("X-Accel-Buffering", "no")
		}

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer cancel()
			defer resp.Body.Close()

			n, err := pipe(w, resp.Body)
			switch {
			case err != nil:
				log.Debug().Err(err).Int64("bytes", n).Msg("relay stream interrupted")
			default:
				log.Debug().Int64("bytes", n).Dur("elapsed", time.Since(start)).Msg("relay stream finished")
			}
		}))
		return nil
	}
}

// pipe copies src to w, flushing after every read so each chunk reaches the
// client as soon as upstream produced it.
func pipe(w *bufio.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, relayChunkSize)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return total, err
			}
			if err := w.Flush(); err != nil {
				return total, err
			}
			total += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, rerr
		}
	}
}

// statusText extracts the reason phrase the upstream sent, e.g. "Bad Gateway"
// from "502 Bad Gateway".
func statusText(resp *http.Response) string {
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
}
