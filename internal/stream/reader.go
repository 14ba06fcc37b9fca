// Package stream feeds newline-delimited JSON event records into a consumer.
//
// Every record is decoded once with event.Decode. Blank lines are skipped
// and malformed records are logged and dropped; neither ends the stream.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Iron-Ham/sightline/internal/event"
	"github.com/Iron-Ham/sightline/internal/logging"
)

// MaxLineBytes bounds a single record.
const MaxLineBytes = 4 << 20

// ApplyFunc consumes one decoded event.
type ApplyFunc func(event.Event)

// Stats counts what a reader saw.
type Stats struct {
	Lines     int `json:"lines"`
	Applied   int `json:"applied"`
	Blank     int `json:"blank"`
	Malformed int `json:"malformed"`
}

// lineHandler decodes lines and keeps the counters shared by ReadAll and
// Follower.
type lineHandler struct {
	apply  ApplyFunc
	logger *logging.Logger
	stats  Stats
}

func (h *lineHandler) handle(line []byte) {
	h.stats.Lines++
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		h.stats.Blank++
		return
	}

	ev, err := event.Decode(line)
	if err != nil {
		h.stats.Malformed++
		h.logger.Warn("dropping malformed event", "line", h.stats.Lines, "error", err)
		return
	}
	h.stats.Applied++
	h.apply(ev)
}

// oversized counts a line longer than the limit as malformed.
func (h *lineHandler) oversized(n int) {
	h.stats.Lines++
	h.stats.Malformed++
	h.logger.Warn("dropping oversized event line", "line", h.stats.Lines, "bytes", n)
}

// ReadAll decodes every record of r in order and hands it to apply. It stops
// at EOF or when ctx is done.
func ReadAll(ctx context.Context, r io.Reader, apply ApplyFunc, logger *logging.Logger) (Stats, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	h := &lineHandler{apply: apply, logger: logger.WithComponent("stream")}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return h.stats, err
		}
		h.handle(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return h.stats, fmt.Errorf("read event stream: %w", err)
	}
	return h.stats, nil
}
