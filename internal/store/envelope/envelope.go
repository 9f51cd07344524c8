// Package envelope implements the length-prefixed stream protocol between
// the core and the external store/notification sink. Each record is one
// line holding the decimal byte length of the JSON document that follows.
package envelope

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// maxDocBytes bounds a single document so a corrupt length line cannot
// force an unbounded allocation.
const maxDocBytes = 8 << 20

type Envelope struct {
	TS        int64           `json:"ts"`
	Producer  string          `json:"producer"`
	PID       int             `json:"pid"`
	PName     string          `json:"pname"`
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

func New(producer string, pid int, pname, eventType string, data any) (Envelope, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal envelope data: %w", err)
	}
	return Envelope{
		TS:        time.Now().UTC().UnixNano(),
		Producer:  producer,
		PID:       pid,
		PName:     pname,
		EventType: eventType,
		Data:      b,
	}, nil
}

// Encode writes the length line followed by the JSON document.
func Encode(w io.Writer, env Envelope) error {
	doc, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(doc) + 16)
	buf.WriteString(strconv.Itoa(len(doc)))
	buf.WriteByte('\n')
	buf.Write(doc)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// Decode reads one length-prefixed document. io.EOF on a clean stream end.
func Decode(r *bufio.Reader) (Envelope, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return Envelope{}, io.EOF
		}
		return Envelope{}, fmt.Errorf("read length line: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return Envelope{}, fmt.Errorf("bad length line %q: %w", strings.TrimSpace(line), err)
	}
	if n < 0 || n > maxDocBytes {
		return Envelope{}, fmt.Errorf("envelope length %d out of range", n)
	}
	doc := make([]byte, n)
	if _, err := io.ReadFull(r, doc); err != nil {
		return Envelope{}, fmt.Errorf("read envelope body: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(doc, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}
