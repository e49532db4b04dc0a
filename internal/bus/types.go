package bus

import (
	"strings"
	"time"
)

// Peer kind values for Message.PeerKind.
const (
	PeerDirect = "direct"
	PeerGroup  = "group"
)

// Message is one normalized inbound chat message, produced by a transport
// adapter (Telegram, Discord, webhook, ...) and consumed by the dispatch
// engine. The engine never sees raw platform payloads.
type Message struct {
	ID       string `json:"id"`
	StreamID string `json:"stream_id"`
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
	PeerKind string `json:"peer_kind,omitempty"` // "direct" or "group"

	// Interest is a precomputed per-message interest score in [0,1].
	// nil means the upstream pipeline did not score this message.
	Interest *float64 `json:"interest,omitempty"`

	// Engagement counters attached by the transport adapter.
	ReplyCount   int `json:"reply_count,omitempty"`
	ReactCount   int `json:"react_count,omitempty"`
	MentionCount int `json:"mention_count,omitempty"`

	// MediaOnly marks image/sticker-only messages with no text payload.
	MediaOnly bool `json:"media_only,omitempty"`

	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Substantive reports whether the message carries content worth reacting
// to. Sticker/image-only messages and blank text are not substantive and
// never justify preempting a pending dispatch.
func (m Message) Substantive() bool {
	return !m.MediaOnly && strings.TrimSpace(m.Content) != ""
}

// InterestOrDefault returns the precomputed interest score, or def when
// the upstream pipeline did not attach one.
func (m Message) InterestOrDefault(def float64) float64 {
	if m.Interest == nil {
		return def
	}
	return *m.Interest
}
