// Package audit publishes structured records of economy operations after
// they commit (or fail). Publishing is best effort: a sink error is logged
// and never turns a committed operation into a failure.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

type Event struct {
	Operation    string    `json:"operation"`
	Actor        string    `json:"actor"`
	Counterparty string    `json:"counterparty,omitempty"`
	Delta        int64     `json:"delta"`
	Balance      int64     `json:"balance"`
	Reason       string    `json:"reason,omitempty"`
	Outcome      string    `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Emit stamps ev, publishes it and swallows the error after logging it.
func Emit(ctx context.Context, sink Sink, log *slog.Logger, ev Event) {
	if sink == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.Outcome == "" {
		ev.Outcome = OutcomeOK
	}
	if err := sink.Publish(ctx, ev); err != nil && log != nil {
		log.Warn("audit publish failed", "operation", ev.Operation, "actor", ev.Actor, "err", err)
	}
}

// Failure builds the event recorded for a rejected operation.
func Failure(op, actor string, err error) Event {
	return Event{Operation: op, Actor: actor, Outcome: OutcomeFailed, Error: err.Error()}
}

type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Publish(ctx context.Context, ev Event) error {
	level := slog.LevelInfo
	if ev.Outcome != OutcomeOK {
		level = slog.LevelWarn
	}
	s.log.Log(ctx, level, "audit",
		"operation", ev.Operation,
		"actor", ev.Actor,
		"counterparty", ev.Counterparty,
		"delta", ev.Delta,
		"balance", ev.Balance,
		"reason", ev.Reason,
		"outcome", ev.Outcome,
		"error", ev.Error,
	)
	return nil
}

// Multi fans out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
