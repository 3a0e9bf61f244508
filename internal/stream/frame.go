// Package stream decodes the backend's event-stream framing: blocks of
// "data: {json}" lines terminated by a blank line, optionally ended by a
// "data: [DONE]" sentinel line.
package stream

// Frame is one decoded protocol frame
type Frame struct {
	Delta string `json:"delta,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// IsTerminal reports whether the frame ends the exchange
func (f Frame) IsTerminal() bool {
	return f.Done || f.Error != ""
}
