// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trace wraps the kernel's process-tracing facility (component
// 4.A). It generalizes the teacher's program/server/ptrace.go from a
// single dedicated-thread dispatcher serving one tracee to one serving a
// whole thread group, still funneling every PTRACE_* request through a
// single runtime.LockOSThread'd goroutine: ptrace state (the "tracer") is
// per-OS-thread in the kernel, so every call for a given tid must run on
// the thread that attached to it.
package trace

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tracebreak/tracebreak/errkind"
)

// call is a closure dispatched to the dedicated ptrace thread.
type call struct {
	f  func() error
	ec chan error
}

// Runner serializes every ptrace operation onto one OS thread, the way
// ptraceRun in the teacher's ptrace.go does for a single tracee; Runner
// extends that to the whole debuggee (all threads of all tracees share
// the debugger's single controller thread per ).
type Runner struct {
	fc chan call
	wg sync.WaitGroup
}

// NewRunner starts the dedicated ptrace thread and returns a Runner bound
// to it. Callers must call Close when done.
func NewRunner() *Runner {
	r := &Runner{fc: make(chan call)}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *Runner) loop() {
	defer r.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for c := range r.fc {
		c.ec <- c.f()
	}
}

// Close stops the dedicated thread. No further calls may be submitted.
func (r *Runner) Close() {
	close(r.fc)
	r.wg.Wait()
}

// do runs f on the dedicated thread and returns its error, translating
// raw syscall errnos into the errkind taxonomy.
func (r *Runner) do(context string, f func() error) error {
	ec := make(chan error)
	r.fc <- call{f: f, ec: ec}
	return classify(context, <-ec)
}

func classify(context string, err error) error {
	if err == nil {
		return nil
	}
	switch err {
	case unix.ESRCH:
		return errkind.Wrap(errkind.TargetGone, context, err)
	case unix.EPERM, unix.EACCES:
		return errkind.Wrap(errkind.Denied, context, err)
	case unix.EIO, unix.EFAULT:
		return errkind.Wrap(errkind.BadAddress, context, err)
	default:
		return errkind.Wrap(errkind.Internal, context, err)
	}
}

// Attach seizes pid (and, by extension, every thread already in its
// thread group — the kernel reports each as a PTRACE_EVENT_STOP once
// PTRACE_SEIZE succeeds). It fails with Denied if the OS refuses and
// TargetGone if the pid has already exited.
func (r *Runner) Attach(pid int) error {
	return r.do(fmt.Sprintf("attach pid %d", pid), func() error {
		return unix.PtraceSeize(pid)
	})
}

// Spawn forks+execs path with argv/env/cwd, requesting tracing before exec
// (PTRACE_TRACEME in the child), and waits for the initial stop. On return
// the child is stopped before its first user instruction. The child
// inherits this process's stdin/stdout/stderr; use SpawnWithIO to redirect
// them.
func (r *Runner) Spawn(path string, argv, env []string, cwd string) (pid int, err error) {
	return r.SpawnWithIO(path, argv, env, cwd, os.Stdin, os.Stdout, os.Stderr)
}

// SpawnWithIO is Spawn with the child's standard files under the caller's
// control, so stdout/stderr can be piped back to the front-end instead of
// inherited.
func (r *Runner) SpawnWithIO(path string, argv, env []string, cwd string, stdin, stdout, stderr *os.File) (pid int, err error) {
	err = r.do("spawn "+path, func() error {
		attr := &os.ProcAttr{
			Dir:   cwd,
			Env:   env,
			Files: []*os.File{stdin, stdout, stderr},
			Sys:   &syscall.SysProcAttr{Ptrace: true},
		}
		proc, startErr := os.StartProcess(path, argv, attr)
		if startErr != nil {
			return startErr
		}
		pid = proc.Pid
		var ws unix.WaitStatus
		_, waitErr := unix.Wait4(pid, &ws, 0, nil)
		return waitErr
	})
	return pid, err
}

// Cont resumes tid, optionally redelivering signal (0 means none).
func (r *Runner) Cont(tid int, signal int) error {
	return r.do(fmt.Sprintf("cont tid %d", tid), func() error {
		return unix.PtraceCont(tid, signal)
	})
}

// Step single-steps tid by exactly one instruction.
func (r *Runner) Step(tid int, signal int) error {
	return r.do(fmt.Sprintf("step tid %d", tid), func() error {
		return unix.PtraceSingleStep(tid)
	})
}

// ptraceInterrupt is the request number for PTRACE_INTERRUPT, which
// golang.org/x/sys/unix does not wrap directly; rawPtrace below issues it
// the same way delve's native backend issues requests unix doesn't cover.
const ptraceInterrupt = 0x4207

// Interrupt asks a running tid to stop, via PTRACE_INTERRUPT (requires a
// seized tracee, which Attach/Spawn's PTRACE_SEIZE/TRACEME provide).
func (r *Runner) Interrupt(tid int) error {
	return r.do(fmt.Sprintf("interrupt tid %d", tid), func() error {
		return rawPtrace(ptraceInterrupt, tid, 0, 0)
	})
}

// SetOptions installs PTRACE_O_TRACECLONE|TRACEEXIT|TRACEEXEC|TRACEFORK on
// tid so new threads, exits, execs, and forks surface as distinguishable
// stops — the
// teacher's ptrace.go TODO ("syscall.PTRACE_O_TRACECLONE shenanigans").
func (r *Runner) SetOptions(tid int) error {
	return r.do(fmt.Sprintf("setoptions tid %d", tid), func() error {
		return unix.PtraceSetOptions(tid, unix.PTRACE_O_TRACECLONE|
			unix.PTRACE_O_TRACEEXIT|unix.PTRACE_O_TRACEEXEC|
			unix.PTRACE_O_TRACEFORK)
	})
}

// Wait blocks for any tracee of this debugger's process group to change
// state; if nonBlocking, it polls instead (WNOHANG).
func (r *Runner) Wait(nonBlocking bool) (pid int, status unix.WaitStatus, err error) {
	flags := 0
	if nonBlocking {
		flags = unix.WNOHANG
	}
	err = r.do("wait", func() error {
		p, e := unix.Wait4(-1, &status, flags, nil)
		pid = p
		return e
	})
	return pid, status, err
}

// ReadMem reads len(buf) bytes from tid's address space at addr, using
// word-granularity PTRACE_PEEKTEXT for small reads and the
// /proc/<pid>/mem fallback for bulk reads.
func (r *Runner) ReadMem(tid int, addr uint64, buf []byte) error {
	if len(buf) > 64 {
		return r.readMemFile(tid, addr, buf)
	}
	return r.do(fmt.Sprintf("read mem tid %d addr %#x", tid, addr), func() error {
		n, err := unix.PtracePeekText(tid, uintptr(addr), buf)
		if err != nil {
			return err
		}
		if n != len(buf) {
			return fmt.Errorf("peeked %d bytes, want %d", n, len(buf))
		}
		return nil
	})
}

func (r *Runner) readMemFile(tid int, addr uint64, buf []byte) error {
	return r.do(fmt.Sprintf("read mem (bulk) tid %d addr %#x", tid, addr), func() error {
		f, err := os.Open(fmt.Sprintf("/proc/%d/mem", tid))
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.ReadAt(buf, int64(addr))
		return err
	})
}

// WriteMem writes bytes to tid's address space at addr using
// PTRACE_POKETEXT, word by word.
func (r *Runner) WriteMem(tid int, addr uint64, bytes []byte) error {
	return r.do(fmt.Sprintf("write mem tid %d addr %#x", tid, addr), func() error {
		n, err := unix.PtracePokeText(tid, uintptr(addr), bytes)
		if err != nil {
			return err
		}
		if n != len(bytes) {
			return fmt.Errorf("poked %d bytes, want %d", n, len(bytes))
		}
		return nil
	})
}

// ReadRegs reads tid's general-purpose registers.
func (r *Runner) ReadRegs(tid int) (*unix.PtraceRegs, error) {
	var regs unix.PtraceRegs
	err := r.do(fmt.Sprintf("getregs tid %d", tid), func() error {
		return unix.PtraceGetRegs(tid, &regs)
	})
	if err != nil {
		return nil, err
	}
	return &regs, nil
}

// WriteRegs writes tid's general-purpose registers.
func (r *Runner) WriteRegs(tid int, regs *unix.PtraceRegs) error {
	return r.do(fmt.Sprintf("setregs tid %d", tid), func() error {
		return unix.PtraceSetRegs(tid, regs)
	})
}

// DebugRegs is the x86-64 debug-register file (DR0-DR3 addresses, DR6
// status, DR7 control) used by hardware watchpoints.
type DebugRegs struct {
	Addr   [4]uint64
	Status uint64 // DR6
	Control uint64 // DR7
}

// ReadDebugRegs and WriteDebugRegs use PTRACE_PEEKUSER/POKEUSER at the
// per-thread debug register offsets in struct user (Linux x86-64 ABI); the
// offsets are fixed by the kernel's <sys/user.h> layout.
const (
	userDebugRegOffset = 848 // offsetof(struct user, u_debugreg) on linux/amd64
	debugRegSize        = 8
)

func (r *Runner) ReadDebugRegs(tid int) (DebugRegs, error) {
	var d DebugRegs
	err := r.do(fmt.Sprintf("peekuser debugregs tid %d", tid), func() error {
		for i := 0; i < 4; i++ {
			v, err := peekUser(tid, userDebugRegOffset+i*debugRegSize)
			if err != nil {
				return err
			}
			d.Addr[i] = v
		}
		status, err := peekUser(tid, userDebugRegOffset+6*debugRegSize)
		if err != nil {
			return err
		}
		d.Status = status
		control, err := peekUser(tid, userDebugRegOffset+7*debugRegSize)
		if err != nil {
			return err
		}
		d.Control = control
		return nil
	})
	return d, err
}

func (r *Runner) WriteDebugRegs(tid int, d DebugRegs) error {
	return r.do(fmt.Sprintf("pokeuser debugregs tid %d", tid), func() error {
		for i := 0; i < 4; i++ {
			if err := pokeUser(tid, userDebugRegOffset+i*debugRegSize, d.Addr[i]); err != nil {
				return err
			}
		}
		if err := pokeUser(tid, userDebugRegOffset+6*debugRegSize, d.Status); err != nil {
			return err
		}
		return pokeUser(tid, userDebugRegOffset+7*debugRegSize, d.Control)
	})
}

// Detach releases tid from tracing, letting it run free.
func (r *Runner) Detach(tid int) error {
	return r.do(fmt.Sprintf("detach tid %d", tid), func() error {
		return unix.PtraceDetach(tid)
	})
}

// Kill terminates the whole debuggee process.
func (r *Runner) Kill(pid int) error {
	return r.do(fmt.Sprintf("kill pid %d", pid), func() error {
		return unix.Kill(pid, unix.SIGKILL)
	})
}

// rawPtrace issues a ptrace(2) request that golang.org/x/sys/unix doesn't
// wrap (PTRACE_INTERRUPT, PEEKUSER, POKEUSER), the same fallback real Go
// debuggers use for requests outside the high-level wrapper set.
func rawPtrace(request, pid int, addr, data uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(request), uintptr(pid), addr, data, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

const (
	ptracePeekUser = 3
	ptracePokeUser = 6
)

func peekUser(tid, offset int) (uint64, error) {
	var out uint64
	err := rawPtrace(ptracePeekUser, tid, uintptr(offset), uintptr(unsafe.Pointer(&out)))
	return out, err
}

func pokeUser(tid, offset int, v uint64) error {
	return rawPtrace(ptracePokeUser, tid, uintptr(offset), uintptr(v))
}
