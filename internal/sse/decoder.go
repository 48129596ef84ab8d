package sse

import (
	"errors"
	"io"
)

const readChunkSize = 4096

// Decoder reads frames incrementally from a byte stream. Bytes that do not
// yet form a complete frame stay buffered until more data arrives, so frames
// split across reads are reassembled.
type Decoder struct {
	r       io.Reader
	chunk   []byte
	buf     string
	pending []Event
	err     error
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, chunk: make([]byte, readChunkSize)}
}

// Next returns the next complete frame. It returns io.EOF once the stream is
// exhausted; an unterminated trailing frame is discarded at that point.
func (d *Decoder) Next() (Event, error) {
	for len(d.pending) == 0 {
		if d.err != nil {
			return Event{}, d.err
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.pending, d.buf = Parse(d.buf + string(d.chunk[:n]))
		}
		if err != nil {
			d.err = err
			if !errors.Is(err, io.EOF) && len(d.pending) == 0 {
				return Event{}, err
			}
		}
	}

	ev := d.pending[0]
	d.pending = d.pending[1:]
	return ev, nil
}

// Remainder is the buffered text not yet part of a complete frame.
func (d *Decoder) Remainder() string {
	return d.buf
}
