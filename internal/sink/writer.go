package sink

import (
	"context"
	"io"
	"os"
	"sync"
)

// WriterSink writes newline-delimited EMF documents to an io.Writer.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewWriterSink returns a sink writing to w. Writes are serialized so
// documents from concurrent attempts never interleave.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// NewStdoutSink writes EMF documents to standard output.
func NewStdoutSink() *WriterSink {
	return NewWriterSink(os.Stdout)
}

func (s *WriterSink) NewLogger() MetricsLogger {
	return newRecorder(s.deliver)
}

func (s *WriterSink) deliver(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := EncodeEMF(rec)
	if err != nil {
		return err
	}
	doc = append(doc, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err = s.w.Write(doc)
	return err
}

// Close stops further writes. The underlying writer is left open.
func (s *WriterSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
