package stream

import (
	"encoding/json"
	"strings"

	"github.com/sightline/sightline/internal/log"
)

// dataPrefix marks lines that carry an event payload. Anything else on the
// wire (blank separator lines, comments) carries no event.
const dataPrefix = "data: "

// payload mirrors the wire JSON of one event line. Fields beyond Type are
// populated depending on the event type.
type payload struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Round   int    `json:"round"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Decoder maps framed lines onto Events. Malformed payloads and unknown
// event types are logged and skipped; decoding never fails the stream.
type Decoder struct {
	logger log.Logger
}

// NewDecoder creates a Decoder. logger must not be nil (use log.NewNop in
// tests).
func NewDecoder(logger log.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// DecodeLine decodes one framed line. The second return value is false when
// the line carries no event: blank lines, lines without the data prefix,
// unparseable payloads, and unrecognized event types.
func (d *Decoder) DecodeLine(line string) (Event, bool) {
	if !strings.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}

	raw := line[len(dataPrefix):]
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		d.logger.Warn("skipping malformed stream line", "error", err)
		return Event{}, false
	}

	switch p.Type {
	case "round":
		return Event{Kind: KindRound, Round: p.Round}, true
	case "response":
		return Event{Kind: KindResponse, Text: p.Content}, true
	case "token":
		return Event{Kind: KindToken, Text: p.Content}, true
	case "image":
		return Event{Kind: KindImage, Path: p.Path}, true
	case "done":
		return Event{Kind: KindDone}, true
	case "stopped":
		return Event{Kind: KindStopped}, true
	case "error":
		return Event{Kind: KindError, Message: p.Message}, true
	case "warning_start":
		return Event{Kind: KindWarningStart}, true
	case "warning_end":
		return Event{Kind: KindWarningEnd}, true
	default:
		// Forward compatibility: newer servers may emit kinds we do not
		// know about yet.
		d.logger.Debug("ignoring unknown stream event type", "type", p.Type)
		return Event{}, false
	}
}
