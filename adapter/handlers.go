// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package adapter

import (
	"encoding/json"

	"github.com/tracebreak/tracebreak/symtab"
)

// runRequest covers both of the facade's start-up paths: a non-zero Pid
// means attach, otherwise Path/Argv/Env/Cwd launch a fresh debuggee.
type runRequest struct {
	Pid  int      `json:"pid,omitempty"`
	Path string   `json:"path"`
	Argv []string `json:"argv,omitempty"`
	Env  []string `json:"env,omitempty"`
	Cwd  string   `json:"cwd,omitempty"`
}

func (s *Server) handleRun(body json.RawMessage) (interface{}, error) {
	var req runRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if req.Pid != 0 {
		return s.facade.Attach(req.Pid, req.Path)
	}
	return s.facade.Launch(req.Path, req.Argv, req.Env, req.Cwd)
}

func (s *Server) handleRestart(body json.RawMessage) (interface{}, error) {
	var req runRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return s.facade.Restart(req.Path, req.Argv, req.Env, req.Cwd)
}

func (s *Server) handleContinue(json.RawMessage) (interface{}, error) { return s.facade.Continue() }
func (s *Server) handleStepInto(json.RawMessage) (interface{}, error) { return s.facade.StepInto() }
func (s *Server) handleStepOver(json.RawMessage) (interface{}, error) { return s.facade.StepOver() }
func (s *Server) handleStepOut(json.RawMessage) (interface{}, error)  { return s.facade.StepOut() }
func (s *Server) handleStepInstruction(json.RawMessage) (interface{}, error) {
	return s.facade.StepInstruction()
}

func (s *Server) handleThreadList(json.RawMessage) (interface{}, error) {
	return s.facade.Threads(), nil
}

type tidRequest struct {
	Tid int `json:"tid"`
}

func (s *Server) handleThreadSelect(body json.RawMessage) (interface{}, error) {
	var req tidRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return nil, s.facade.SelectThread(req.Tid)
}

// frameInfo is the wire projection of an unwind.Frame: callers get the
// resolved function/source location, not the raw register snapshot or
// symbol-table pointer.
type frameInfo struct {
	Index    int    `json:"index"`
	PC       uint64 `json:"pc"`
	CFA      uint64 `json:"cfa"`
	Function string `json:"function,omitempty"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

func (s *Server) handleFrameList(json.RawMessage) (interface{}, error) {
	frames := s.facade.Frames()
	out := make([]frameInfo, len(frames))
	for i, fr := range frames {
		out[i] = frameInfo{Index: fr.Index, PC: fr.PC, CFA: fr.CFA, File: fr.Line.File, Line: fr.Line.Line}
		if fr.Func != nil {
			out[i].Function = fr.Func.Name
		}
	}
	return out, nil
}

type frameIndexRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleFrameSelect(body json.RawMessage) (interface{}, error) {
	var req frameIndexRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return nil, s.facade.SelectFrame(req.Index)
}

type backtraceRequest struct {
	All bool `json:"all,omitempty"`
}

func (s *Server) handleBacktrace(body json.RawMessage) (interface{}, error) {
	var req backtraceRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if req.All {
		return s.facade.BacktraceAll()
	}
	return s.facade.Backtrace(), nil
}

// breakAddRequest's Kind selects which of the facade's three
// placement constructors runs: "function" (Name), "line" (Path, Line),
// or "address" (Address).
type breakAddRequest struct {
	Kind    string `json:"kind"`
	Name    string `json:"name,omitempty"`
	Path    string `json:"path,omitempty"`
	Line    int    `json:"line,omitempty"`
	Address uint64 `json:"address,omitempty"`
}

func (s *Server) handleBreakAdd(body json.RawMessage) (interface{}, error) {
	var req breakAddRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	switch req.Kind {
	case "function":
		return s.facade.AddBreakpointAtFunction(req.Name)
	case "line":
		return s.facade.AddBreakpointAtLine(req.Path, req.Line)
	default:
		return s.facade.AddBreakpointAtAddress(req.Address)
	}
}

type idRequest struct {
	ID int `json:"id"`
}

func (s *Server) handleBreakRemove(body json.RawMessage) (interface{}, error) {
	var req idRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return nil, s.facade.RemoveBreakpoint(req.ID)
}

func (s *Server) handleBreakList(json.RawMessage) (interface{}, error) {
	return s.facade.ListBreakpoints(), nil
}

type watchAddRequest struct {
	Address uint64 `json:"address"`
	Length  int    `json:"length"`
	Access  string `json:"access,omitempty"`
}

func (s *Server) handleWatchAdd(body json.RawMessage) (interface{}, error) {
	var req watchAddRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	access, err := watchAccessFromString(req.Access)
	if err != nil {
		return nil, err
	}
	return s.facade.AddWatchpoint(req.Address, req.Length, access)
}

func (s *Server) handleWatchRemove(body json.RawMessage) (interface{}, error) {
	var req idRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return nil, s.facade.RemoveWatchpoint(req.ID)
}

func (s *Server) handleWatchList(json.RawMessage) (interface{}, error) {
	return s.facade.ListWatchpoints(), nil
}

type triggerAddRequest struct {
	TargetID int      `json:"targetId"`
	Commands []string `json:"commands"`
}

func (s *Server) handleTriggerAdd(body json.RawMessage) (interface{}, error) {
	var req triggerAddRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return s.facade.AddTrigger(req.TargetID, req.Commands), nil
}

func (s *Server) handleTriggerRemove(body json.RawMessage) (interface{}, error) {
	var req idRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return nil, s.facade.RemoveTrigger(req.ID)
}

func (s *Server) handleTriggerList(json.RawMessage) (interface{}, error) {
	return s.facade.ListTriggers(), nil
}

type memoryReadRequest struct {
	Address uint64 `json:"address"`
	Length  int    `json:"length"`
}

type memoryReadResponse struct {
	Data []byte `json:"data"`
}

func (s *Server) handleMemoryRead(body json.RawMessage) (interface{}, error) {
	var req memoryReadRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	data, err := s.facade.ReadMemory(req.Address, req.Length)
	if err != nil {
		return nil, err
	}
	return memoryReadResponse{Data: data}, nil
}

type memoryWriteRequest struct {
	Address uint64 `json:"address"`
	Data    []byte `json:"data"`
}

func (s *Server) handleMemoryWrite(body json.RawMessage) (interface{}, error) {
	var req memoryWriteRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return nil, s.facade.WriteMemory(req.Address, req.Data)
}

type registerReadRequest struct {
	Name string `json:"name"`
}

type registerValueResponse struct {
	Value uint64 `json:"value"`
}

func (s *Server) handleRegisterRead(body json.RawMessage) (interface{}, error) {
	var req registerReadRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	v, err := s.facade.ReadRegister(req.Name)
	if err != nil {
		return nil, err
	}
	return registerValueResponse{Value: v}, nil
}

type registerWriteRequest struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

func (s *Server) handleRegisterWrite(body json.RawMessage) (interface{}, error) {
	var req registerWriteRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return nil, s.facade.WriteRegister(req.Name, req.Value)
}

func (s *Server) handleRegisterList(json.RawMessage) (interface{}, error) {
	return s.facade.ListRegisters()
}

type sourceRequest struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Context int    `json:"context"`
}

func (s *Server) handleSource(body json.RawMessage) (interface{}, error) {
	var req sourceRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return s.facade.Source(req.Path, req.Line, req.Context)
}

type disassembleRequest struct {
	Address uint64 `json:"address"`
	Length  int    `json:"length"`
}

func (s *Server) handleDisassemble(body json.RawMessage) (interface{}, error) {
	var req disassembleRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return s.facade.Disassemble(req.Address, req.Length)
}

type symbolLookupRequest struct {
	Name    string `json:"name,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// symbolInfo is the wire projection of a symtab.Symbol: the adapter
// boundary never serializes an Object/Unit pointer, just what a front
// end renders a symbol as.
type symbolInfo struct {
	Name   string `json:"name"`
	Object string `json:"object"`
	LowPC  uint64 `json:"lowPc"`
	HighPC uint64 `json:"highPc"`
}

func symbolInfoOf(syms []*symtab.Symbol) []symbolInfo {
	out := make([]symbolInfo, len(syms))
	for i, sym := range syms {
		out[i] = symbolInfo{Name: sym.Name, LowPC: sym.LowPC, HighPC: sym.HighPC}
		if sym.Object != nil {
			out[i].Object = sym.Object.Path
		}
	}
	return out
}

func (s *Server) handleSymbolLookup(body json.RawMessage) (interface{}, error) {
	var req symbolLookupRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if req.Pattern != "" {
		syms, err := s.facade.LookupSymbolsMatching(req.Pattern)
		if err != nil {
			return nil, err
		}
		return symbolInfoOf(syms), nil
	}
	return symbolInfoOf(s.facade.LookupSymbol(req.Name)), nil
}

// objectInfo is the wire projection of an objfile.Object, also used for
// the shared-library-change event (Loaded distinguishes a load from an
// unload there; it is always true for the shared-library-list response).
type objectInfo struct {
	Path     string `json:"path"`
	LoadBias uint64 `json:"loadBias"`
	HasDWARF bool   `json:"hasDwarf"`
	Loaded   bool   `json:"loaded"`
}

func (s *Server) handleSharedLibraryList(json.RawMessage) (interface{}, error) {
	objs := s.facade.SharedLibraries()
	out := make([]objectInfo, len(objs))
	for i, obj := range objs {
		out[i] = objectInfo{Path: obj.Path, LoadBias: obj.LoadBias, HasDWARF: obj.DWARF != nil, Loaded: true}
	}
	return out, nil
}

type evaluateRequest struct {
	Expr string `json:"expr"`
}

// valueInfo is the wire projection of an eval.Value: its *dwarf.Type
// graph can be self-referential (a struct member pointing back at its
// own type, as any linked node type does), so only the type's name
// crosses the wire, never the graph itself.
type valueInfo struct {
	Type      string `json:"type,omitempty"`
	Addr      uint64 `json:"addr,omitempty"`
	HasAddr   bool   `json:"hasAddr"`
	Immediate []byte `json:"immediate,omitempty"`
}

func (s *Server) handleEvaluate(body json.RawMessage) (interface{}, error) {
	var req evaluateRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	v, err := s.facade.Evaluate(req.Expr)
	if err != nil {
		return nil, err
	}
	info := valueInfo{Addr: v.Addr, HasAddr: v.HasAddr, Immediate: v.Immediate}
	if v.Type != nil {
		info.Type = v.Type.Name
	}
	return info, nil
}

func (s *Server) handleQuit(json.RawMessage) (interface{}, error) {
	return nil, s.facade.Quit()
}
