// Package sse parses and writes the event-stream frames exchanged between the
// copilot upstream, the relay and the terminal client.
//
// Only the subset of the format the copilot uses is understood: an "event:"
// line naming the frame and one or more "data:" lines carrying the payload,
// terminated by a blank line.
package sse

import "strings"

const frameSeparator = "\n\n"

// Event is one complete frame.
type Event struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// Parse splits buffer into the complete frames it contains and the
// unconsumed tail. Everything up to the last blank-line separator is consumed;
// the tail is returned unchanged so the caller can prepend it to the next
// chunk. Blocks without an event name or without data are dropped.
func Parse(buffer string) ([]Event, string) {
	end := strings.LastIndex(buffer, frameSeparator)
	if end < 0 {
		return nil, buffer
	}

	complete, remainder := buffer[:end], buffer[end+len(frameSeparator):]

	var events []Event
	for _, block := range strings.Split(complete, frameSeparator) {
		if ev, ok := parseBlock(block); ok {
			events = append(events, ev)
		}
	}
	return events, remainder
}

func parseBlock(block string) (Event, bool) {
	var name string
	var data []string

	for _, line := range strings.Split(block, "\n") {
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(line, "data:"))
		}
	}

	payload := strings.Join(data, "\n")
	if name == "" || payload == "" {
		return Event{}, false
	}
	return Event{Event: name, Data: payload}, true
}
