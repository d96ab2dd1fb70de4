package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flushRecorder is an httptest.ResponseRecorder that counts flushes.
type flushRecorder struct {
	*httptest.ResponseRecorder
	flushes int
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (r *flushRecorder) Flush() {
	r.flushes++
}

type notAFlusher struct{}

func (notAFlusher) Header() http.Header         { return http.Header{} }
func (notAFlusher) Write(p []byte) (int, error) { return len(p), nil }
func (notAFlusher) WriteHeader(statusCode int)  {}

func TestNewSSEStreamRequiresFlusher(t *testing.T) {
	_, err := NewSSEStream(notAFlusher{})
	assert.ErrorIs(t, err, ErrResponseWriterNotFlusher)
}

func TestWriteEventFramingAndIDs(t *testing.T) {
	rec := newFlushRecorder()
	stream, err := NewSSEStream(rec)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.WriteEvent("message", []byte(`{"a":1}`)))
	require.NoError(t, stream.WriteEvent("", []byte(`{"b":2}`)))

	body := rec.Body.String()
	assert.Contains(t, body, "id: 0\nevent: message\ndata: {\"a\":1}\n\n")
	assert.Contains(t, body, "id: 1\ndata: {\"b\":2}\n\n")
	assert.Equal(t, 2, rec.flushes)
}

func TestWriteEventAfterClose(t *testing.T) {
	rec := newFlushRecorder()
	stream, err := NewSSEStream(rec)
	require.NoError(t, err)

	stream.Close()
	assert.ErrorIs(t, stream.WriteEvent("message", []byte("{}")), ErrStreamClosed)
}

func TestSendAndRun(t *testing.T) {
	rec := newFlushRecorder()
	stream, err := NewSSEStream(rec)
	require.NoError(t, err)

	require.NoError(t, stream.Send("message", []byte(`{"n":1}`)))
	require.NoError(t, stream.Send("message", []byte(`{"n":2}`)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		stream.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return stream.nextEventID == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}

	body := rec.Body.String()
	assert.Contains(t, body, `data: {"n":1}`)
	assert.Contains(t, body, `data: {"n":2}`)
}

func TestSendQueueFull(t *testing.T) {
	rec := newFlushRecorder()
	stream, err := NewSSEStream(rec)
	require.NoError(t, err)
	defer stream.Close()

	for i := 0; i < eventQueueSize; i++ {
		require.NoError(t, stream.Send("message", []byte("{}")))
	}
	assert.ErrorIs(t, stream.Send("message", []byte("{}")), ErrEventQueueFull)
}
