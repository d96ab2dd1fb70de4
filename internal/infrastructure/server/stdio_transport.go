package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/seekhub/knowledge-mcp-server/internal/domain"
	"github.com/seekhub/knowledge-mcp-server/internal/infrastructure/logging"
)

// StdioTransport serves JSON-RPC over a line-oriented stream: one JSON
// payload per line in, one per line out. By default it binds stdin/stdout.
type StdioTransport struct {
	reader    *bufio.Reader
	writer    *bufio.Writer
	handler   MessageHandler
	logger    *logging.Logger
	closeCh   chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
}

// StdioOption configures a StdioTransport.
type StdioOption func(*StdioTransport)

// WithStdioStreams replaces the default stdin/stdout pair.
func WithStdioStreams(r io.Reader, w io.Writer) StdioOption {
	return func(t *StdioTransport) {
		t.reader = bufio.NewReader(r)
		t.writer = bufio.NewWriter(w)
	}
}

// WithStdioLogger sets the structured logger. Logs never share the output
// stream with protocol traffic.
func WithStdioLogger(logger *logging.Logger) StdioOption {
	return func(t *StdioTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewStdioTransport creates a stdio transport over the given handler.
func NewStdioTransport(handler MessageHandler, opts ...StdioOption) *StdioTransport {
	t := &StdioTransport{
		reader:  bufio.NewReader(os.Stdin),
		writer:  bufio.NewWriter(os.Stdout),
		handler: handler,
		logger:  logging.NewNop(),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Serve reads lines until EOF, the context is cancelled, or Close is called.
// Each line is processed synchronously so replies preserve input order.
func (t *StdioTransport) Serve(ctx context.Context) error {
	for {
		select {
		case <-t.closeCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := t.reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "reading from input")
		}

		t.handleLine(ctx, line)

		if err == io.EOF {
			return nil
		}
	}
}

// Close stops the serve loop after the line in flight completes.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closeCh)
	})
	return nil
}

func (t *StdioTransport) handleLine(ctx context.Context, line []byte) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}

	var raw json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		t.writeReply(domain.CreateErrorResponse(nil, domain.ErrCodeParse, "parse error"))
		return
	}
	envelopes, isBatch, ok := domain.SplitBatch(raw)
	if !ok {
		t.writeReply(domain.CreateErrorResponse(nil, domain.ErrCodeParse, "parse error"))
		return
	}
	if len(envelopes) == 0 {
		t.writeReply(domain.CreateErrorResponse(nil, domain.ErrCodeInvalidRequest, "empty batch"))
		return
	}

	responses := make([]*domain.JSONRPCResponse, 0, len(envelopes))
	for _, env := range envelopes {
		msg := domain.ClassifyMessage(env)
		if resp := t.handler(ctx, msg); resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) == 0 {
		return
	}

	if isBatch {
		t.writeReply(responses)
	} else {
		t.writeReply(responses[0])
	}
}

func (t *StdioTransport) writeReply(reply interface{}) {
	data, err := json.Marshal(reply)
	if err != nil {
		t.logger.Error("marshalling reply", logging.Fields{"error": err.Error()})
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(data); err != nil {
		t.logger.Error("writing reply", logging.Fields{"error": err.Error()})
		return
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		t.logger.Error("writing newline", logging.Fields{"error": err.Error()})
		return
	}
	if err := t.writer.Flush(); err != nil {
		t.logger.Error("flushing output", logging.Fields{"error": err.Error()})
	}
}
