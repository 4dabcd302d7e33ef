// Package progress publishes session lifecycle events to observers such as a
// UI dashboard. Publishing is best effort; the questionnaire only logs failures.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// EventType names a session lifecycle transition
type EventType string

const (
	EventQuestionIssued   EventType = "question_issued"
	EventAnswerRecorded   EventType = "answer_recorded"
	EventSessionCompleted EventType = "session_completed"
	EventSessionFailed    EventType = "session_failed"
)

// Event is one progress notification
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id"`
	QuestionID string    `json:"question_id,omitempty"`
	Category   string    `json:"category,omitempty"`
	Confidence float64   `json:"confidence"`
	Answered   int       `json:"answered"`
	Message    string    `json:"message,omitempty"`
	Time       time.Time `json:"time"`
}

// Sink receives progress events
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// NopSink drops every event
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }

// LogSink writes events to a structured logger
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, ev Event) error {
	s.Logger.InfoContext(ctx, "session progress",
		"type", ev.Type,
		"session_id", ev.SessionID,
		"question_id", ev.QuestionID,
		"confidence", ev.Confidence,
		"answered", ev.Answered)
	return nil
}

// MultiSink fans an event out to every sink and joins their errors
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
