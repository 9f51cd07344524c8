package monitor

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

const maxEventLine = 1 << 20

// ReaderIngress decodes one JSON event per line from an io.Reader. The
// interception layer pipes events in this form; EOF ends the stream.
type ReaderIngress struct {
	r      io.Reader
	closer io.Closer
	logger *slog.Logger
	ch     chan types.Event
	once   sync.Once
}

func NewReaderIngress(r io.Reader, logger *slog.Logger) *ReaderIngress {
	if logger == nil {
		logger = slog.Default()
	}
	in := &ReaderIngress{
		r:      r,
		logger: logger.With("component", "ingress"),
		ch:     make(chan types.Event, 256),
	}
	if c, ok := r.(io.Closer); ok {
		in.closer = c
	}
	go in.read()
	return in
}

func (in *ReaderIngress) Events() <-chan types.Event { return in.ch }

// Close stops the underlying reader; the event channel closes once the
// read loop observes the error or EOF.
func (in *ReaderIngress) Close() error {
	if in.closer != nil {
		return in.closer.Close()
	}
	return nil
}

func (in *ReaderIngress) read() {
	defer in.once.Do(func() { close(in.ch) })

	sc := bufio.NewScanner(in.r)
	sc.Buffer(make([]byte, 64*1024), maxEventLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// One bad line never takes down the stream.
			in.logger.Warn("discarding undecodable event line", "error", err)
			continue
		}
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		in.ch <- ev
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		in.logger.Warn("ingress read ended", "error", err)
	}
}
