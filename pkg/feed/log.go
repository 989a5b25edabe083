package feed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxEventSize is the largest serialized event a log may carry (1 MiB).
// Initial full-sync events for big servers run large; anything beyond this
// is a corrupt or hostile log.
const MaxEventSize = 1 << 20

var ErrEventTooLarge = fmt.Errorf("feed: event exceeds %d bytes", MaxEventSize)

// WriteEvent appends one event to w as a single JSON line.
func WriteEvent(w io.Writer, evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("feed: marshal event: %w", err)
	}
	if len(data) > MaxEventSize {
		return ErrEventTooLarge
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("feed: write event: %w", err)
	}
	return nil
}

// Reader streams events from a JSON-lines log. Blank lines are skipped so
// hand-edited captures stay readable.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader wraps r in an event log reader.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), MaxEventSize)
	return &Reader{sc: sc}
}

// Next returns the next event, or io.EOF when the log is exhausted.
func (r *Reader) Next() (*Event, error) {
	for r.sc.Scan() {
		r.line++
		line := bytes.TrimSpace(r.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		evt := &Event{}
		if err := json.Unmarshal(line, evt); err != nil {
			return nil, fmt.Errorf("feed: line %d: %w", r.line, err)
		}
		return evt, nil
	}
	if err := r.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("feed: line %d: %w", r.line+1, ErrEventTooLarge)
		}
		return nil, fmt.Errorf("feed: read event: %w", err)
	}
	return nil, io.EOF
}
