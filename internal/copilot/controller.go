// Package copilot drives one copilot conversation: it sends a message through
// the relay, consumes the streamed answer and records both sides in the
// session store.
package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/qdash-dev/copilot/internal/credentials"
	"github.com/qdash-dev/copilot/internal/logger"
	"github.com/qdash-dev/copilot/internal/session"
	"github.com/qdash-dev/copilot/internal/sse"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	// ErrCanceled is what a send sees internally once it has been superseded.
	// SendMessage never returns it.
	ErrCanceled = errors.New("copilot request canceled")
)

const maxErrorBody = 64 << 10

// Mode selects the relay endpoint.
type Mode int

const (
	ModeAnalyze Mode = iota
	ModeChat
)

func (m Mode) Path() string {
	if m == ModeChat {
		return "/api/copilot/chat/stream"
	}
	return "/api/copilot/analyze/stream"
}

func (m Mode) String() string {
	if m == ModeChat {
		return "chat"
	}
	return "analyze"
}

// ParseMode accepts "analyze" or "chat".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "analyze":
		return ModeAnalyze, nil
	case "chat":
		return ModeChat, nil
	}
	return ModeAnalyze, fmt.Errorf("unknown mode %q (want analyze or chat)", s)
}

type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	}
	return "idle"
}

// Snapshot is the observable controller state.
type Snapshot struct {
	State          State
	Loading        bool
	Status         string
	CompletedTools []string
	Err            string
}

type UpdateKind int

const (
	// UpdateState reports a state transition.
	UpdateState UpdateKind = iota
	// UpdateStatus carries a parsed status frame.
	UpdateStatus
	// UpdateMessage reports that a message was written to the session.
	UpdateMessage
	// UpdateError reports a failed send.
	UpdateError
)

// Update is delivered to Options.Notify in the order things happened within
// one send.
type Update struct {
	Kind      UpdateKind
	SessionID string
	Message   session.Message
	Snapshot  Snapshot
}

// UpstreamError is a non-OK answer from the relay.
type UpstreamError struct {
	Status     int
	StatusText string
	Detail     string
}

func (e *UpstreamError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("copilot request failed: %d %s", e.Status, e.StatusText)
}

// StreamError is an error frame sent by the backend mid-stream.
type StreamError struct {
	Detail string
}

func (e *StreamError) Error() string {
	return e.Detail
}

type Options struct {
	// RelayURL is the base URL of the relay server.
	RelayURL       string
	Mode           Mode
	Sessions       *session.Store
	Credentials    credentials.Source
	Tools          *ToolRegistry
	DefaultContext map[string]any
	HTTPClient     *http.Client
	// Notify must not call back into the Controller.
	Notify func(Update)
}

// Controller runs at most one request at a time. Starting a new one cancels
// the previous request; a canceled request never touches the session store
// again.
type Controller struct {
	opts   Options
	client *http.Client

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	snap   Snapshot
}

func NewController(opts Options) *Controller {
	if opts.Sessions == nil {
		opts.Sessions = session.NewStore()
	}
	if opts.Credentials == nil {
		opts.Credentials = credentials.NewStore()
	}
	if opts.Tools == nil {
		opts.Tools = DefaultTools()
	}
	opts.RelayURL = strings.TrimRight(opts.RelayURL, "/")

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			// No timeout, a stream lasts until the backend closes it
		}
	}
	return &Controller{opts: opts, client: client}
}

func (c *Controller) Sessions() *session.Store {
	return c.opts.Sessions
}

func (c *Controller) Mode() Mode {
	return c.opts.Mode
}

// NewSession creates and activates a session seeded with the default context.
func (c *Controller) NewSession() string {
	return c.opts.Sessions.CreateNewSession(c.opts.DefaultContext)
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := c.snap
	s.CompletedTools = append([]string(nil), c.snap.CompletedTools...)
	return s
}

// Cancel aborts the in-flight request, if any. The aborted request ends
// silently.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.cancel = nil
	c.gen++
	c.snap = Snapshot{State: StateIdle, Err: c.snap.Err}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	logger.Debugf("copilot request canceled")
	c.notify(Update{Kind: UpdateState, Snapshot: snap})
}

// SendMessage sends text in the active session (creating one when there is
// none) and blocks until the answer has been streamed into the store.
//
// Backend and transport failures are recorded as an "Error: ..." assistant
// message and returned. A request superseded by another SendMessage, by
// Cancel, or by ctx returns nil and leaves the session untouched from then on.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.mu.Unlock()

	defer c.finish(gen)

	sessionID, messages, sessCtx, err := c.begin(gen, text)
	if err != nil {
		if errors.Is(err, ErrCanceled) {
			return nil
		}
		return err
	}

	run := &run{c: c, gen: gen, ctx: reqCtx, sessionID: sessionID, messages: messages}
	if err := run.stream(text, sessCtx); err != nil {
		if reqCtx.Err() != nil || errors.Is(err, ErrCanceled) {
			logger.Debugf("copilot request for session %s ended by cancellation", sessionID)
			return nil
		}
		run.fail(err)
		return err
	}
	return nil
}

// begin records the user message and returns the local snapshot of the
// session's messages the stream appends to.
func (c *Controller) begin(gen uint64, text string) (string, []session.Message, map[string]any, error) {
	store := c.opts.Sessions

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return "", nil, nil, ErrCanceled
	}

	id := store.ActiveSessionID()
	if id == "" {
		id = store.CreateNewSession(c.opts.DefaultContext)
	}
	sess, ok := store.Get(id)
	if !ok {
		c.mu.Unlock()
		return "", nil, nil, fmt.Errorf("active session %s: %w", id, session.ErrNotFound)
	}

	messages := append(sess.Messages, session.Message{Role: session.RoleUser, Content: text})
	if err := store.UpdateSessionMessages(id, messages); err != nil {
		c.mu.Unlock()
		return "", nil, nil, err
	}
	store.AutoTitleSession(id, text)

	c.snap = Snapshot{State: StateSending, Loading: true}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(Update{Kind: UpdateMessage, SessionID: id, Message: messages[len(messages)-1], Snapshot: snap})
	c.notify(Update{Kind: UpdateState, SessionID: id, Snapshot: snap})
	return id, messages, sess.Context, nil
}

func (c *Controller) finish(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.cancel = nil
	c.snap.State = StateIdle
	c.snap.Loading = false
	c.snap.Status = ""
	c.snap.CompletedTools = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(Update{Kind: UpdateState, Snapshot: snap})
}

// update applies fn to the snapshot if gen is still the current request.
func (c *Controller) update(gen uint64, fn func(*Snapshot)) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return Snapshot{}, false
	}
	fn(&c.snap)
	return c.snapshotLocked(), true
}

// commit writes messages to the store unless the request was superseded.
func (c *Controller) commit(gen uint64, ctx context.Context, sessionID string, messages []session.Message) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || ctx.Err() != nil {
		return Snapshot{}, ErrCanceled
	}
	if err := c.opts.Sessions.UpdateSessionMessages(sessionID, messages); err != nil {
		return Snapshot{}, err
	}
	return c.snapshotLocked(), nil
}

func (c *Controller) notify(u Update) {
	if c.opts.Notify != nil {
		c.opts.Notify(u)
	}
}

// run is the state of one SendMessage call.
type run struct {
	c         *Controller
	gen       uint64
	ctx       context.Context
	sessionID string
	// messages is this request's own copy of the conversation; results are
	// appended here and written back wholesale.
	messages []session.Message
}

func (r *run) stream(text string, sessCtx map[string]any) error {
	c := r.c
	log := logger.WithFields(map[string]interface{}{
		"session_id": r.sessionID,
		"mode":       c.opts.Mode.String(),
	})

	headers, err := credentials.BuildHeaders(c.opts.Credentials)
	if err != nil {
		return fmt.Errorf("failed to build request headers: %w", err)
	}

	body, err := json.Marshal(requestBody{
		Message:   text,
		SessionID: r.sessionID,
		History:   r.messages[:len(r.messages)-1],
		Context:   sessCtx,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(r.ctx, http.MethodPost, c.opts.RelayURL+c.opts.Mode.Path(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = headers
	req.Header.Set("Accept", "text/event-stream")

	log.Debug().Str("url", req.URL.String()).Msg("sending copilot request")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return upstreamError(resp)
	}

	if snap, ok := c.update(r.gen, func(s *Snapshot) { s.State = StateStreaming }); ok {
		c.notify(Update{Kind: UpdateState, SessionID: r.sessionID, Snapshot: snap})
	}

	dec := sse.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			log.Debug().Msg("copilot stream finished")
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading copilot stream: %w", err)
		}
		if err := r.handle(ev); err != nil {
			return err
		}
	}
}

func (r *run) handle(ev sse.Event) error {
	c := r.c
	switch ev.Event {
	case EventStatus:
		p, err := parseStatus(ev.Data)
		if err != nil {
			logger.Warnf("skipping copilot status frame: %v", err)
			return nil
		}
		labels := c.opts.Tools.Labels(p.CompletedTools)
		snap, ok := c.update(r.gen, func(s *Snapshot) {
			s.Status = p.Message
			s.CompletedTools = labels
		})
		if !ok {
			return ErrCanceled
		}
		c.notify(Update{Kind: UpdateStatus, SessionID: r.sessionID, Snapshot: snap})

	case EventResult:
		content, err := resultContent(ev.Data)
		if err != nil {
			logger.Warnf("skipping copilot result frame: %v", err)
			return nil
		}
		msg := session.Message{Role: session.RoleAssistant, Content: content}
		r.messages = append(r.messages, msg)
		snap, err := c.commit(r.gen, r.ctx, r.sessionID, r.messages)
		if err != nil {
			return err
		}
		c.notify(Update{Kind: UpdateMessage, SessionID: r.sessionID, Message: msg, Snapshot: snap})

	case EventError:
		return &StreamError{Detail: errorDetail(ev.Data)}

	default:
		logger.Debugf("ignoring copilot frame %q", ev.Event)
	}
	return nil
}

// fail records err as the conversation's answer.
func (r *run) fail(err error) {
	c := r.c
	detail := err.Error()
	log := logger.WithField("session_id", r.sessionID)
	log.Error().Err(err).Msg("❌ copilot request failed")

	if _, ok := c.update(r.gen, func(s *Snapshot) { s.Err = detail }); !ok {
		return
	}

	msg := session.Message{Role: session.RoleAssistant, Content: "Error: " + detail}
	r.messages = append(r.messages, msg)
	snap, cerr := c.commit(r.gen, r.ctx, r.sessionID, r.messages)
	if cerr != nil {
		logger.Warnf("failed to record copilot error in session %s: %v", r.sessionID, cerr)
		return
	}
	c.notify(Update{Kind: UpdateMessage, SessionID: r.sessionID, Message: msg, Snapshot: snap})
	c.notify(Update{Kind: UpdateError, SessionID: r.sessionID, Snapshot: snap})
}

func upstreamError(resp *http.Response) error {
	e := &UpstreamError{
		Status:     resp.StatusCode,
		StatusText: strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode))),
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return e
	}

	var p struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(data, &p) == nil && p.Detail != nil {
		switch d := p.Detail.(type) {
		case string:
			e.Detail = d
		default:
			// validation errors arrive as a list of objects
			raw, _ := json.Marshal(d)
			e.Detail = string(raw)
		}
	}
	return e
}
