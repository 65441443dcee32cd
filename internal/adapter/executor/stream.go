package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/thushan/olla-link/internal/adapter/gate"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/pkg/pool"
)

var textPool = pool.MustNew(func() *bytes.Buffer { return new(bytes.Buffer) })

// Stream reads a newline-delimited JSON response one chunk at a time. It is
// lazy, finite and cannot be restarted. The permit and the connection are
// released once the stream ends, fails or is closed. Only Close may be
// called from another goroutine.
type Stream struct {
	ctx       context.Context
	err       error
	body      io.ReadCloser
	reader    *bufio.Reader
	lease     *gate.Lease
	cancel    context.CancelFunc
	logger    logger.StyledLogger
	RequestID string
	chunk     Chunk
	skipped   int
	closeOnce sync.Once
	finished  atomic.Bool
}

func newStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, lease *gate.Lease, requestID string, log logger.StyledLogger) *Stream {
	return &Stream{
		ctx:       ctx,
		cancel:    cancel,
		body:      body,
		reader:    bufio.NewReader(body),
		lease:     lease,
		RequestID: requestID,
		logger:    log,
	}
}

// Next advances to the next valid chunk. Blank and malformed lines are
// skipped. The chunk flagged done is still returned, after it Next is false.
func (s *Stream) Next() bool {
	if s.finished.Load() {
		return false
	}

	for {
		line, readErr := s.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			chunk, ok := parseChunk(line)
			if !ok {
				s.skipped++
				s.logger.Debug("Skipping malformed stream line", "request_id", s.RequestID, "bytes", len(line))
			} else {
				s.chunk = chunk
				if chunk.Done {
					s.finish(nil)
				}
				return true
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				s.finish(nil)
			} else if ctxErr := s.ctx.Err(); ctxErr != nil {
				s.finish(ctxErr)
			} else {
				s.finish(readErr)
			}
			return false
		}
	}
}

// Chunk is the chunk Next just moved to
func (s *Stream) Chunk() Chunk {
	return s.chunk
}

// Err reports a transport or cancellation error, malformed lines are not errors
func (s *Stream) Err() error {
	return s.err
}

// Skipped counts lines that were not valid JSON objects
func (s *Stream) Skipped() int {
	return s.skipped
}

// All ranges over the remaining chunks and closes the stream afterwards,
// including when the loop breaks early
func (s *Stream) All() iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.chunk) {
				return
			}
		}
	}
}

// Text drains the stream and concatenates the partial texts
func (s *Stream) Text() (string, error) {
	sb := textPool.Get()
	defer textPool.Put(sb)
	for chunk := range s.All() {
		sb.WriteString(chunk.Text)
	}
	return sb.String(), s.err
}

// Close releases the connection and the permit. Safe to call repeatedly.
func (s *Stream) Close() error {
	s.finish(nil)
	return nil
}

func (s *Stream) finish(err error) {
	if err != nil && s.err == nil {
		s.err = err
	}
	s.finished.Store(true)
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.body.Close()
		s.lease.Release()
	})
}
