// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package adapter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tracebreak/tracebreak/breakpoint"
	"github.com/tracebreak/tracebreak/debugger"
)

// Server adapts a debugger.Facade's method-call surface to the wire
// protocol: one goroutine reads request envelopes and dispatches them,
// another forwards the facade's asynchronous events, both writing
// through the same mutex-guarded connection.
type Server struct {
	facade *debugger.Facade
	log    *logrus.Entry

	handlers map[string]handlerFunc
}

type handlerFunc func(s *Server, body json.RawMessage) (interface{}, error)

// NewServer builds a Server around an already-constructed facade; the
// caller owns the facade's lifetime (Serve does not call Quit on exit).
func NewServer(facade *debugger.Facade, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{facade: facade, log: log}
	s.handlers = map[string]handlerFunc{
		"run":                 (*Server).handleRun,
		"restart":             (*Server).handleRestart,
		"continue":            (*Server).handleContinue,
		"step-into":           (*Server).handleStepInto,
		"step-over":           (*Server).handleStepOver,
		"step-out":            (*Server).handleStepOut,
		"step-instruction":    (*Server).handleStepInstruction,
		"thread-list":         (*Server).handleThreadList,
		"thread-select":       (*Server).handleThreadSelect,
		"frame-list":          (*Server).handleFrameList,
		"frame-select":        (*Server).handleFrameSelect,
		"backtrace":           (*Server).handleBacktrace,
		"break-add":           (*Server).handleBreakAdd,
		"break-remove":        (*Server).handleBreakRemove,
		"break-list":          (*Server).handleBreakList,
		"watch-add":           (*Server).handleWatchAdd,
		"watch-remove":        (*Server).handleWatchRemove,
		"watch-list":          (*Server).handleWatchList,
		"trigger-add":         (*Server).handleTriggerAdd,
		"trigger-remove":      (*Server).handleTriggerRemove,
		"trigger-list":        (*Server).handleTriggerList,
		"memory-read":         (*Server).handleMemoryRead,
		"memory-write":        (*Server).handleMemoryWrite,
		"register-read":       (*Server).handleRegisterRead,
		"register-write":      (*Server).handleRegisterWrite,
		"register-list":       (*Server).handleRegisterList,
		"source":              (*Server).handleSource,
		"disassemble":         (*Server).handleDisassemble,
		"symbol-lookup":       (*Server).handleSymbolLookup,
		"shared-library-list": (*Server).handleSharedLibraryList,
		"evaluate":            (*Server).handleEvaluate,
		"quit":                (*Server).handleQuit,
	}
	return s
}

// Serve reads and dispatches requests from conn until a read fails (EOF
// is reported as a nil error). Before returning it waits for the event
// forwarder, which stops when the facade's event stream ends or a write
// to conn fails. It blocks; callers typically run it per accepted
// connection.
func (s *Server) Serve(conn io.ReadWriteCloser) error {
	var writeMu sync.Mutex
	write := func(env Envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return writeEnvelope(conn, env)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range s.facade.Events() {
			env, ok := eventEnvelope(ev)
			if !ok {
				continue
			}
			if err := write(env); err != nil {
				s.log.WithError(err).Warn("adapter: writing event")
				return
			}
		}
	}()

	r := bufio.NewReader(conn)
	for {
		req, err := readEnvelope(r)
		if err != nil {
			<-done
			if err == io.EOF {
				return nil
			}
			return err
		}
		handler, ok := s.handlers[req.Command]
		if !ok {
			write(Envelope{Seq: req.Seq, Error: fmt.Sprintf("unknown command %q", req.Command)})
			continue
		}
		result, err := handler(s, req.Body)
		if err != nil {
			write(Envelope{Seq: req.Seq, Error: err.Error()})
			continue
		}
		body, err := marshalBody(result)
		if err != nil {
			write(Envelope{Seq: req.Seq, Error: err.Error()})
			continue
		}
		write(Envelope{Seq: req.Seq, Success: true, Body: body})
	}
}

// Dispatch runs one command directly against the facade, bypassing the
// framed connection loop, for a one-shot CLI invocation that wants a
// single JSON result on stdout rather than a persistent session.
func (s *Server) Dispatch(command string, body json.RawMessage) (interface{}, error) {
	handler, ok := s.handlers[command]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", command)
	}
	return handler(s, body)
}

func marshalBody(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// eventEnvelope turns one of the facade's merged events into a wire
// event, by name, so a front-end dispatches on Event the same way it
// dispatches a response on Command.
func eventEnvelope(ev debugger.Event) (Envelope, bool) {
	switch {
	case ev.Stop != nil:
		body, err := json.Marshal(ev.Stop)
		if err != nil {
			return Envelope{}, false
		}
		return Envelope{Event: "stopped", Body: body}, true
	case ev.Output != nil:
		body, err := json.Marshal(ev.Output)
		if err != nil {
			return Envelope{}, false
		}
		return Envelope{Event: "output", Body: body}, true
	case ev.Object != nil:
		info := objectInfo{Loaded: ev.Object.Loaded}
		if ev.Object.Object != nil {
			info.Path = ev.Object.Object.Path
			info.LoadBias = ev.Object.Object.LoadBias
			info.HasDWARF = ev.Object.Object.DWARF != nil
		}
		body, err := json.Marshal(info)
		if err != nil {
			return Envelope{}, false
		}
		return Envelope{Event: "shared-library-change", Body: body}, true
	default:
		return Envelope{}, false
	}
}

func decode(body json.RawMessage, v interface{}) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

// watchAccessFromString maps the wire's "write"/"read-write" strings
// onto breakpoint.WatchAccess, the same vocabulary AddWatchpoint's
// command-line/REPL front-ends would use.
func watchAccessFromString(s string) (breakpoint.WatchAccess, error) {
	switch s {
	case "", "write":
		return breakpoint.WatchWrite, nil
	case "read-write":
		return breakpoint.WatchReadWrite, nil
	default:
		return 0, fmt.Errorf("adapter: unknown watch access %q", s)
	}
}
