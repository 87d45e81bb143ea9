// Package stream turns the agent server's chunked response body into typed
// events: a Framer reassembles protocol lines from arbitrary fragments and a
// Decoder maps each line onto the closed Event union.
package stream

// Kind identifies the variant of a stream Event.
type Kind int

// Event kinds emitted by the agent server.
const (
	KindRound        Kind = iota // new workflow round announced
	KindResponse                 // complete assistant message (whole-task mode)
	KindToken                    // incremental text delta (prediction mode)
	KindImage                    // result image reference
	KindDone                     // terminal: success
	KindStopped                  // terminal: stopped by user
	KindError                    // terminal: server-reported failure
	KindWarningStart             // agent took control of input devices
	KindWarningEnd               // agent released control
)

// String returns the wire name of the kind, for logging.
func (k Kind) String() string {
	switch k {
	case KindRound:
		return "round"
	case KindResponse:
		return "response"
	case KindToken:
		return "token"
	case KindImage:
		return "image"
	case KindDone:
		return "done"
	case KindStopped:
		return "stopped"
	case KindError:
		return "error"
	case KindWarningStart:
		return "warning_start"
	case KindWarningEnd:
		return "warning_end"
	}
	return "unknown"
}

// Terminal reports whether the kind ends a request cycle.
func (k Kind) Terminal() bool {
	return k == KindDone || k == KindStopped || k == KindError
}

// Event is a decoded unit of server-pushed information.
// Exactly one kind applies per event; the payload fields below are only
// meaningful for the kinds noted.
type Event struct {
	Kind    Kind
	Round   int    // KindRound
	Text    string // KindResponse, KindToken
	Path    string // KindImage
	Message string // KindError
}
