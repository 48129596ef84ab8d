package handlers

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/qdash-dev/copilot/internal/logger"
	"github.com/qdash-dev/copilot/internal/sse"
	"github.com/valyala/fasthttp"
)

// Messages starting with these commands make the mock upstream misbehave on
// purpose.
const (
	MockCommandError = "/error"
	MockCommandFail  = "/fail"
)

type mockRequest struct {
	Message   string           `json:"message"`
	SessionID string           `json:"session_id"`
	History   []map[string]any `json:"history"`
	Context   map[string]any   `json:"context"`
}

// MockUpstreamHandler imitates the internal copilot API: a few status frames
// naming the tools it "ran", then one result frame.
type MockUpstreamHandler struct {
	step        time.Duration
	requireAuth bool
}

func NewMockUpstreamHandler(step time.Duration, requireAuth bool) *MockUpstreamHandler {
	return &MockUpstreamHandler{step: step, requireAuth: requireAuth}
}

func (h *MockUpstreamHandler) Register(router fiber.Router) {
	router.Post(UpstreamAnalyzePath, h.Stream(true))
	router.Post(UpstreamChatPath, h.Stream(false))
}

// Stream answers one request. Analyze answers carry structured blocks, chat
// answers a plain explanation.
func (h *MockUpstreamHandler) Stream(analyze bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if h.requireAuth && c.Get("Authorization") == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"detail": "Not authenticated"})
		}

		var req mockRequest
		if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Message) == "" {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"detail": "message is required"})
		}

		if strings.HasPrefix(req.Message, MockCommandFail) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": "mock upstream failure"})
		}

		logger.Debugf("mock upstream: %q (session %s, %d history messages, project %s)",
			req.Message, req.SessionID, len(req.History), c.Get("X-Project-Id"))

		frames := h.script(req, analyze)

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			sw := sse.NewWriter(w)
			for i, f := range frames {
				if i > 0 && h.step > 0 {
					time.Sleep(h.step)
				}
				if err := sw.WriteJSON(f.event, f.payload); err != nil {
					logger.Debugf("mock upstream: client went away: %v", err)
					return
				}
			}
		}))
		return nil
	}
}

type mockFrame struct {
	event   string
	payload any
}

func (h *MockUpstreamHandler) script(req mockRequest, analyze bool) []mockFrame {
	tools := []string{"get_chip_summary"}
	if qid, ok := req.Context["qid"]; ok && qid != "" {
		tools = append(tools, "get_qubit_params", "get_parameter_timeseries")
	}

	frames := []mockFrame{{"status", fiber.Map{"message": "Planning analysis..."}}}
	for i, tool := range tools {
		frames = append(frames, mockFrame{"status", fiber.Map{
			"message":         fmt.Sprintf("Running %s", tool),
			"completed_tools": tools[:i],
		}})
	}

	if strings.HasPrefix(req.Message, MockCommandError) {
		return append(frames, mockFrame{"error", fiber.Map{"detail": "mock analysis error"}})
	}

	explanation := fmt.Sprintf("You asked: %s", req.Message)
	if len(req.History) > 0 {
		explanation += fmt.Sprintf(" (following %d earlier messages)", len(req.History))
	}

	if !analyze {
		return append(frames, mockFrame{"result", fiber.Map{"explanation": explanation}})
	}
	return append(frames, mockFrame{"result", fiber.Map{
		"explanation": explanation,
		"blocks": []fiber.Map{
			{"type": "text", "content": "## Summary\n\n" + explanation},
			{"type": "table", "columns": []string{"tool", "status"}, "rows": toolRows(tools)},
		},
	}})
}

func toolRows(tools []string) [][]string {
	rows := make([][]string, len(tools))
	for i, t := range tools {
		rows[i] = []string{t, "ok"}
	}
	return rows
}
