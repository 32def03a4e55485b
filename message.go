package knowmem

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Messages and Text Ranges
// ============================================================================

// MessageOrdinal is the dense position of a message in a conversation.
type MessageOrdinal int

// Message is one ingested unit of source text: a chat turn, an email,
// a transcript block. Text is stored as ordered chunks so a knowledge
// fragment can anchor to a sub-range of a long message.
type Message struct {
	ID         string   `json:"id,omitempty"`
	TextChunks []string `json:"textChunks"`
	// Timestamp is RFC 3339; empty when the source carries no time.
	Timestamp string   `json:"timestamp,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// NewMessage builds a message from a single chunk of text.
func NewMessage(text string, at time.Time) Message {
	m := Message{
		ID:         uuid.NewString(),
		TextChunks: []string{text},
	}
	if !at.IsZero() {
		m.Timestamp = at.UTC().Format(time.RFC3339)
	}
	return m
}

// Time parses the message timestamp. Returns false when absent or
// unparseable.
func (m *Message) Time() (time.Time, bool) {
	if m.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, m.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// TextLocation addresses a chunk within a message.
type TextLocation struct {
	MessageOrdinal MessageOrdinal `json:"messageOrdinal"`
	ChunkOrdinal   int            `json:"chunkOrdinal"`
}

// Compare orders locations by message, then chunk.
func (l TextLocation) Compare(other TextLocation) int {
	if l.MessageOrdinal != other.MessageOrdinal {
		if l.MessageOrdinal < other.MessageOrdinal {
			return -1
		}
		return 1
	}
	switch {
	case l.ChunkOrdinal < other.ChunkOrdinal:
		return -1
	case l.ChunkOrdinal > other.ChunkOrdinal:
		return 1
	default:
		return 0
	}
}

// TextRange anchors a knowledge fragment to source text. End is
// exclusive; a nil End means the range covers the single Start
// location.
type TextRange struct {
	Start TextLocation  `json:"start"`
	End   *TextLocation `json:"end,omitempty"`
}

// RangeOfMessage covers one whole message.
func RangeOfMessage(ordinal MessageOrdinal) TextRange {
	return TextRange{Start: TextLocation{MessageOrdinal: ordinal}}
}

// end returns the exclusive end of the range.
func (r TextRange) end() TextLocation {
	if r.End != nil {
		return *r.End
	}
	return TextLocation{MessageOrdinal: r.Start.MessageOrdinal, ChunkOrdinal: r.Start.ChunkOrdinal + 1}
}

// Intersects reports whether two ranges overlap.
func (r TextRange) Intersects(other TextRange) bool {
	return r.Start.Compare(other.end()) < 0 && other.Start.Compare(r.end()) < 0
}

// Contains reports whether other lies entirely inside r.
func (r TextRange) Contains(other TextRange) bool {
	return r.Start.Compare(other.Start) <= 0 && other.end().Compare(r.end()) <= 0
}

// DateRange bounds message timestamps; End is inclusive and optional.
type DateRange struct {
	Start time.Time
	End   *time.Time
}

// Contains reports whether t falls inside the range.
func (d DateRange) Contains(t time.Time) bool {
	if t.Before(d.Start) {
		return false
	}
	if d.End != nil && t.After(*d.End) {
		return false
	}
	return true
}
