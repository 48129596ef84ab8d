package tui

import (
	"github.com/qdash-dev/copilot/internal/copilot"
	"github.com/qdash-dev/copilot/internal/session"
)

// copilotUpdateMsg wraps a controller update delivered through program.Send.
type copilotUpdateMsg copilot.Update

type sendDoneMsg struct {
	err error
}

type canceledMsg struct{}

// storeChangedMsg reports a mutation of the session store.
type storeChangedMsg session.Change

// fileChangedMsg reports that the sessions file was rewritten on disk.
type fileChangedMsg struct{}
