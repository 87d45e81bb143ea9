package stream

import "bytes"

// Framer reassembles newline-delimited protocol lines from fragments that
// arrive at arbitrary boundaries. A trailing partial line is buffered until
// its terminator arrives; if the stream ends first the partial is discarded.
//
// A Framer belongs to a single request cycle. Construct a fresh one per
// cycle; it is not safe for concurrent use.
type Framer struct {
	rest []byte
}

// NewFramer creates an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Push appends a fragment and returns every complete line it unlocked, in
// order, with the '\n' terminator stripped. Returns nil when the fragment
// completed no line.
func (f *Framer) Push(fragment []byte) []string {
	f.rest = append(f.rest, fragment...)

	var lines []string
	for {
		i := bytes.IndexByte(f.rest, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(f.rest[:i]))
		f.rest = f.rest[i+1:]
	}
	return lines
}

// Pending reports whether an unterminated partial line is buffered.
func (f *Framer) Pending() bool {
	return len(f.rest) > 0
}
