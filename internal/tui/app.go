// Package tui is the interactive terminal chat for the copilot.
package tui

import (
	"context"
	"errors"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/qdash-dev/copilot/internal/copilot"
	"github.com/qdash-dev/copilot/internal/logger"
	"github.com/qdash-dev/copilot/internal/recovery"
	"github.com/qdash-dev/copilot/internal/session"
)

const reloadDebounce = 200 * time.Millisecond

// programNotifier forwards controller updates into the bubbletea loop. The
// program only exists after the controller, hence the late binding.
type programNotifier struct {
	mu      sync.Mutex
	program *tea.Program
}

func (n *programNotifier) bind(p *tea.Program) {
	n.mu.Lock()
	n.program = p
	n.mu.Unlock()
}

func (n *programNotifier) send(u copilot.Update) {
	n.deliver(copilotUpdateMsg(u))
}

func (n *programNotifier) deliver(msg tea.Msg) {
	n.mu.Lock()
	p := n.program
	n.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Run starts the chat UI and blocks until the user quits or ctx is done.
// opts.Notify is replaced. When sessionsPath is set the transcript follows
// changes other processes make to that file.
func Run(ctx context.Context, opts copilot.Options, style, sessionsPath string) error {
	notifier := &programNotifier{}
	opts.Notify = notifier.send
	ctrl := copilot.NewController(opts)

	model := NewModel(ctrl, style)
	model.sessionsPath = sessionsPath
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	notifier.bind(p)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	unsubscribe := forwardChanges(runCtx, ctrl.Sessions(), notifier.deliver)
	defer unsubscribe()

	if sessionsPath != "" {
		err := session.Watch(runCtx, sessionsPath, reloadDebounce, func() {
			notifier.deliver(fileChangedMsg{})
		})
		if err != nil {
			logger.Warnf("not following session changes: %v", err)
		}
	}

	logger.Debugf("chat UI starting in %s mode", ctrl.Mode())
	_, err := p.Run()
	ctrl.Cancel()

	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// forwardChanges turns store mutations into storeChangedMsg. Mutations made
// by the update loop itself must not block on program.Send, so changes are
// coalesced into a one slot channel and sent from a separate goroutine.
func forwardChanges(ctx context.Context, store *session.Store, send func(tea.Msg)) func() {
	pending := make(chan session.Change, 1)
	unsubscribe := store.Subscribe(func(c session.Change) {
		select {
		case pending <- c:
		default:
		}
	})

	recovery.SafeGo("session-changes", func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-pending:
				send(storeChangedMsg(c))
			}
		}
	})
	return unsubscribe
}
