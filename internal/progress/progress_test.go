package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []Event
	err    error
}

func (r *recordingSink) Publish(ctx context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestMultiSink(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("down")}
	c := &recordingSink{}

	err := MultiSink{a, b, c}.Publish(context.Background(), Event{Type: EventAnswerRecorded, SessionID: "s1"})
	assert.ErrorContains(t, err, "down")
	assert.Len(t, a.events, 1)
	assert.Len(t, c.events, 1)

	assert.NoError(t, MultiSink{a, NopSink{}}.Publish(context.Background(), Event{}))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	require.NoError(t, sink.Publish(context.Background(), Event{Type: EventQuestionIssued, SessionID: "s1", QuestionID: "q1"}))
	assert.Contains(t, buf.String(), `"type":"question_issued"`)
	assert.Contains(t, buf.String(), `"question_id":"q1"`)
}

func TestWebSocketSink(t *testing.T) {
	received := make(chan Event, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev Event
			if json.Unmarshal(data, &ev) == nil {
				received <- ev
			}
		}
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink, err := NewWebSocketSink("ws"+strings.TrimPrefix(srv.URL, "http"), logger)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Publish(ctx, Event{Type: EventQuestionIssued, SessionID: "s1", QuestionID: "q1"}))
	require.NoError(t, sink.Publish(ctx, Event{Type: EventAnswerRecorded, SessionID: "s1", Confidence: 42}))

	for _, want := range []EventType{EventQuestionIssued, EventAnswerRecorded} {
		select {
		case ev := <-received:
			assert.Equal(t, want, ev.Type)
			assert.Equal(t, "s1", ev.SessionID)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	require.NoError(t, sink.Close())
	assert.Error(t, sink.Publish(ctx, Event{}))
}

func TestWebSocketSinkUnreachable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink, err := NewWebSocketSink("ws://127.0.0.1:1/progress", logger)
	require.NoError(t, err)
	assert.Error(t, sink.Publish(context.Background(), Event{Type: EventSessionCompleted}))

	_, err = NewWebSocketSink("", logger)
	assert.Error(t, err)
}

func TestWebSocketSinkHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.WithinDuration(t, time.Now().Add(100*time.Millisecond), writeDeadline(ctx), 50*time.Millisecond)
	assert.WithinDuration(t, time.Now().Add(writeWait), writeDeadline(context.Background()), 50*time.Millisecond)

	sink, err := NewWebSocketSink("ws://127.0.0.1:1/progress", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	cancelled, stop := context.WithCancel(context.Background())
	stop()
	assert.ErrorIs(t, sink.Publish(cancelled, Event{Type: EventSessionCompleted}), context.Canceled)
}
