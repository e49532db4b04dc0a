package dispatch

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/autoreply/internal/stream"
)

// LogHandler is the built-in handler used when the binary runs without an
// external reply pipeline: it logs what it would answer and succeeds
// without taking actions. Useful for soak-testing the scheduler.
type LogHandler struct {
	streamID string
	kind     stream.Kind
}

// NewLogHandler is a Constructor for LogHandler.
func NewLogHandler(streamID string, kind stream.Kind) (Handler, error) {
	return &LogHandler{streamID: streamID, kind: kind}, nil
}

// Execute logs the unread batch and reports success with zero actions.
func (h *LogHandler) Execute(ctx context.Context, st *stream.State) (Outcome, error) {
	unread := st.UnreadSnapshot()
	for _, msg := range unread {
		slog.Info("would reply",
			"stream", h.streamID,
			"kind", string(h.kind),
			"sender", msg.SenderID,
			"content", msg.Content,
		)
	}
	return Outcome{Success: true, ActionCount: 0}, nil
}
