// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ibilux/draft-lab-db/internal/engine"
	"github.com/ibilux/draft-lab-db/internal/util/observability"
)

// ErrSessionCompleted is returned by Session methods called after the session callback returned.
var ErrSessionCompleted = errors.New("session is already completed")

// flavor is the way recorded statements are submitted to the engine.
type flavor int

const (
	flavorBatch flavor = iota
	flavorTransaction
)

// String implements fmt.Stringer.
func (f flavor) String() string {
	switch f {
	case flavorBatch:
		return "batch"
	case flavorTransaction:
		return "transaction"
	default:
		panic(fmt.Sprintf("unexpected flavor %d", int(f)))
	}
}

// SessionState represents the state of a Session.
type SessionState int

// Session states.
const (
	SessionRecording SessionState = iota // callback is running, statements are accepted
	SessionReplaying                     // statements are being submitted to the engine
	SessionDone                          // nothing else happens
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case SessionRecording:
		return "recording"
	case SessionReplaying:
		return "replaying"
	case SessionDone:
		return "done"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Pending is returned by Session recording methods instead of a result.
//
// The result of a recorded statement is not available to the callback.
type Pending struct {
	index int
}

// Index returns the position of the recorded statement in the session, starting from 0.
func (p Pending) Index() int {
	return p.index
}

// Session records statements inside Batch and Transaction callbacks.
//
// It is valid only while the callback runs.
// Methods are safe for concurrent use.
type Session struct {
	id     string
	flavor flavor

	m     sync.Mutex
	state SessionState
	stmts []engine.Statement
}

// newSession creates a new Session in Recording state.
func newSession(f flavor) *Session {
	return &Session{
		id:     uuid.NewString(),
		flavor: f,
		state:  SessionRecording,
	}
}

// ID returns the unique session ID.
func (s *Session) ID() string {
	return s.id
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.m.Lock()
	defer s.m.Unlock()

	return s.state
}

// Len returns the number of recorded statements.
func (s *Session) Len() int {
	s.m.Lock()
	defer s.m.Unlock()

	return len(s.stmts)
}

// SQL records the query.
func (s *Session) SQL(query string, params engine.Params) (Pending, error) {
	return s.record(query, params, engine.MethodAll)
}

// Query records the query.
func (s *Session) Query(query string, params engine.Params) (Pending, error) {
	return s.record(query, params, engine.MethodAll)
}

// Run records the statement.
func (s *Session) Run(query string, params engine.Params) (Pending, error) {
	return s.record(query, params, engine.MethodRun)
}

// record appends the statement to the list.
func (s *Session) record(query string, params engine.Params, method engine.Method) (Pending, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.state != SessionRecording {
		return Pending{}, ErrSessionCompleted
	}

	s.stmts = append(s.stmts, engine.Statement{SQL: query, Params: params, Method: method})

	return Pending{index: len(s.stmts) - 1}, nil
}

// seal stops recording and returns recorded statements with the "run" method.
//
// If replay is true and there are statements, the session moves to Replaying state,
// and to Done otherwise.
func (s *Session) seal(replay bool) []engine.Statement {
	s.m.Lock()
	defer s.m.Unlock()

	if s.state != SessionRecording {
		panic(fmt.Sprintf("unexpected session state %s", s.state))
	}

	if !replay || len(s.stmts) == 0 {
		s.state = SessionDone
		return nil
	}

	s.state = SessionReplaying

	res := make([]engine.Statement, len(s.stmts))
	for i, stmt := range s.stmts {
		stmt.Method = engine.MethodRun
		res[i] = stmt
	}

	return res
}

// setDone moves the session to the Done state.
func (s *Session) setDone() {
	s.m.Lock()
	defer s.m.Unlock()

	s.state = SessionDone
}

// Batch calls f with a new Session, and then submits all recorded statements
// to the engine as a batch, if f returned nil.
//
// Recorded statements never return rows.
// The error returned by f is returned as is; in that case nothing is submitted.
func (c *Client) Batch(ctx context.Context, f func(context.Context, *Session) error) error {
	_, err := inSession(ctx, c, flavorBatch, func(ctx context.Context, s *Session) (struct{}, error) {
		return struct{}{}, f(ctx, s)
	})

	return err
}

// Transaction calls f with a new Session, and then submits all recorded statements
// to the engine as a single transaction, if f returned nil.
//
// Either all recorded statements are applied, or none.
// The error returned by f is returned as is; in that case nothing is submitted.
func (c *Client) Transaction(ctx context.Context, f func(context.Context, *Session) error) error {
	_, err := inSession(ctx, c, flavorTransaction, func(ctx context.Context, s *Session) (struct{}, error) {
		return struct{}{}, f(ctx, s)
	})

	return err
}

// InBatch is like [Client.Batch], but also returns the result of f.
func InBatch[T any](ctx context.Context, c *Client, f func(context.Context, *Session) (T, error)) (T, error) {
	return inSession(ctx, c, flavorBatch, f)
}

// InTransaction is like [Client.Transaction], but also returns the result of f.
func InTransaction[T any](ctx context.Context, c *Client, f func(context.Context, *Session) (T, error)) (T, error) {
	return inSession(ctx, c, flavorTransaction, f)
}

// inSession implements batch and transaction sessions.
func inSession[T any](ctx context.Context, c *Client, fl flavor, f func(context.Context, *Session) (T, error)) (T, error) {
	defer observability.FuncCall(ctx)()

	s := newSession(fl)
	l := c.l.With(zap.String("session", s.id), zap.Stringer("flavor", fl))

	ctx, span := c.tracer.Start(ctx, fl.String())
	defer span.End()

	span.SetAttributes(attribute.String("labdb.session", s.id))

	var returned bool

	defer func() {
		// f panicked or called runtime.Goexit
		if !returned {
			s.seal(false)
			c.sessions.WithLabelValues(fl.String(), "callback_failed").Inc()
			span.SetStatus(codes.Error, "callback did not return")
			l.Debug("Callback did not return, nothing submitted.")
		}
	}()

	res, err := f(ctx, s)
	returned = true

	var zero T

	if err != nil {
		s.seal(false)
		c.sessions.WithLabelValues(fl.String(), "callback_failed").Inc()
		span.SetStatus(codes.Error, "callback failed")
		l.Debug("Callback failed, nothing submitted.", zap.Int("recorded", s.Len()), zap.Error(err))

		return zero, err
	}

	stmts := s.seal(true)
	if len(stmts) == 0 {
		c.sessions.WithLabelValues(fl.String(), "empty").Inc()
		l.Debug("Nothing recorded.")

		return res, nil
	}

	span.SetAttributes(attribute.Int("labdb.statements", len(stmts)))
	l.Debug("Submitting recorded statements.", zap.Int("statements", len(stmts)))

	switch fl {
	case flavorBatch:
		err = c.conn.ExecBatch(ctx, stmts)
	case flavorTransaction:
		err = c.conn.Transaction(ctx, stmts)
	}

	s.setDone()

	if err != nil {
		c.sessions.WithLabelValues(fl.String(), "replay_failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "replay failed")
		l.Debug("Replay failed.", zap.Error(err))

		return zero, err
	}

	c.sessions.WithLabelValues(fl.String(), "replayed").Inc()
	c.replayed.WithLabelValues(fl.String()).Add(float64(len(stmts)))

	return res, nil
}
