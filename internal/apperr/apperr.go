// Package apperr defines the error kinds surfaced by the questionnaire engine.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure so callers can decide whether to retry.
type Kind string

const (
	KindGenerationUnavailable       Kind = "generation_unavailable"
	KindGenerationTimeout           Kind = "generation_timeout"
	KindGenerationFailed            Kind = "generation_failed"
	KindGenerationMalformed         Kind = "generation_malformed"
	KindDuplicateQuestionsExhausted Kind = "duplicate_questions_exhausted"
	KindSessionComplete             Kind = "session_complete"
	KindSessionNotFound             Kind = "session_not_found"
	KindSessionFailed               Kind = "session_failed"
	KindQuestionNotFound            Kind = "question_not_found"
	KindAlreadyAnswered             Kind = "already_answered"
	KindNotEnoughAnswers            Kind = "not_enough_answers"
	KindInvalidChartContext         Kind = "invalid_chart_context"
)

// Error carries a kind plus a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match for any *Error of the same kind, so the sentinels below
// work with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrGenerationUnavailable       = &Error{Kind: KindGenerationUnavailable}
	ErrGenerationTimeout           = &Error{Kind: KindGenerationTimeout}
	ErrGenerationFailed            = &Error{Kind: KindGenerationFailed}
	ErrGenerationMalformed         = &Error{Kind: KindGenerationMalformed}
	ErrDuplicateQuestionsExhausted = &Error{Kind: KindDuplicateQuestionsExhausted}
	ErrSessionComplete             = &Error{Kind: KindSessionComplete}
	ErrSessionNotFound             = &Error{Kind: KindSessionNotFound}
	ErrSessionFailed               = &Error{Kind: KindSessionFailed}
	ErrQuestionNotFound            = &Error{Kind: KindQuestionNotFound}
	ErrAlreadyAnswered             = &Error{Kind: KindAlreadyAnswered}
	ErrNotEnoughAnswers            = &Error{Kind: KindNotEnoughAnswers}
	ErrInvalidChartContext         = &Error{Kind: KindInvalidChartContext}
)

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether repeating the whole operation may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindGenerationTimeout, KindGenerationFailed, KindGenerationMalformed, KindDuplicateQuestionsExhausted:
		return true
	}
	return false
}

// Fatal reports whether the failure should move a session into the error state.
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindGenerationUnavailable, KindInvalidChartContext:
		return true
	}
	return false
}
