package stream

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/iksnae/medichat/internal"
)

const (
	dataField    = "data:"
	doneSentinel = "[DONE]"
)

var (
	crlf      = []byte("\r\n")
	lf        = []byte("\n")
	blankLine = []byte("\n\n")
)

// Decoder splits an event stream into frames. Chunks may end anywhere,
// including inside a frame or between "\r" and "\n"; unterminated data stays
// buffered until the next chunk. A Decoder serves a single stream.
type Decoder struct {
	buf      []byte
	finished bool
}

// NewDecoder returns an empty decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the buffer and returns every frame it completed, in
// order. Malformed frames are logged and skipped. Once the [DONE] sentinel
// has been seen further input is ignored.
func (d *Decoder) Feed(chunk []byte) []Frame {
	if d.finished {
		return nil
	}
	d.buf = append(d.buf, chunk...)
	if bytes.Contains(d.buf, crlf) {
		d.buf = bytes.ReplaceAll(d.buf, crlf, lf)
	}

	var frames []Frame
	for {
		d.buf = bytes.TrimLeft(d.buf, "\n")

		// The sentinel may arrive line-oriented, with a single newline
		if leadingSentinel(d.buf) {
			d.finish()
			return append(frames, Frame{Done: true})
		}

		end := bytes.Index(d.buf, blankLine)
		if end < 0 {
			return frames
		}
		block := d.buf[:end]
		d.buf = d.buf[end+len(blankLine):]

		frame, sentinel, ok := parseBlock(block)
		if !ok {
			continue
		}
		frames = append(frames, frame)
		if sentinel {
			d.finish()
			return frames
		}
	}
}

// Finished reports whether the [DONE] sentinel has been decoded
func (d *Decoder) Finished() bool {
	return d.finished
}

// Buffered returns the number of bytes held for an incomplete frame
func (d *Decoder) Buffered() int {
	return len(bytes.TrimSpace(d.buf))
}

func (d *Decoder) finish() {
	d.finished = true
	d.buf = nil
}

// parseBlock decodes one blank-line terminated block. ok is false for blocks
// without data (comments, keep-alives) and for malformed payloads.
func parseBlock(block []byte) (frame Frame, sentinel bool, ok bool) {
	var data []string
	for _, line := range strings.Split(string(block), "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		payload, isData := dataPayload(line)
		if !isData {
			// event:, id: and retry: fields carry nothing this protocol uses
			continue
		}
		data = append(data, payload)
	}
	if len(data) == 0 {
		return Frame{}, false, false
	}

	payload := strings.TrimSpace(strings.Join(data, "\n"))
	if payload == doneSentinel {
		return Frame{Done: true}, true, true
	}
	if !strings.HasPrefix(payload, "{") {
		internal.LogDebug("Skipping frame without JSON object payload: %q", truncate(payload))
		return Frame{}, false, false
	}
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		internal.LogWarn("Failed to parse frame JSON: %v", err)
		return Frame{}, false, false
	}
	return frame, false, true
}

func dataPayload(line string) (string, bool) {
	if !strings.HasPrefix(line, dataField) {
		return "", false
	}
	return strings.TrimLeft(line[len(dataField):], " \t"), true
}

// leadingSentinel reports whether the block at the front of buf holds a
// newline-terminated [DONE] line preceded only by non-data fields
func leadingSentinel(buf []byte) bool {
	for {
		line, rest, ok := bytes.Cut(buf, lf)
		if !ok || len(line) == 0 {
			return false
		}
		if isSentinel(line) {
			return true
		}
		if _, isData := dataPayload(string(line)); isData {
			return false
		}
		buf = rest
	}
}

func isSentinel(line []byte) bool {
	payload, ok := dataPayload(string(line))
	return ok && strings.TrimSpace(payload) == doneSentinel
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
