// Package notify carries user-facing notices from the client core to whatever displays them.
package notify

import (
	"log/slog"
	"sync"
)

// Notifier shows a short message to the user. isError selects the error style.
type Notifier interface {
	Notify(message string, isError bool)
}

// Log writes notices to the default slog logger.
type Log struct{}

func (Log) Notify(message string, isError bool) {
	if isError {
		slog.Warn("notice", "message", message)
		return
	}
	slog.Info("notice", "message", message)
}

// Notice is one recorded notification.
type Notice struct {
	Message string
	IsError bool
}

// Recorder keeps every notice it receives. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(message string, isError bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Message: message, IsError: isError})
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Errors returns the messages of recorded error notices.
func (r *Recorder) Errors() []string {
	var out []string
	for _, n := range r.Notices() {
		if n.IsError {
			out = append(out, n.Message)
		}
	}
	return out
}
