// Package ptyproxy spawns a child process under a pseudo-terminal and
// relays bytes between the user's real terminal and the child, preserving
// raw-mode semantics, window resize propagation, and exit-code fidelity,
// while duplicating the child's output to an observer callback.
package ptyproxy

import (
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/nafistiham/jigai/internal/log"
)

// readSize is the chunk size used for both directions of the relay. The
// observer must tolerate any chunk boundary; it must not assume
// line-aligned input.
const readSize = 16 * 1024

// OutputFunc receives a chunk of the child's output, verbatim, in the order
// it was read from the PTY master.
type OutputFunc func(chunk []byte)

// ExitFunc is invoked exactly once, after the proxy has fully shut down,
// with the child's final exit code (or 130 on interrupt, or -1 if the child
// was signal-terminated).
type ExitFunc func(exitCode int)

// StartFunc is invoked exactly once, right after the child has been spawned
// under the PTY, with its process id.
type StartFunc func(pid int)

// Proxy spawns argv under a PTY and relays bytes until the child exits or
// Stop is called.
type Proxy struct {
	argv     []string
	onOutput OutputFunc
	onExit   ExitFunc
	onStart  StartFunc

	stopCh chan struct{}
}

// New creates a Proxy for the given argv. onOutput is called with every
// chunk of child output (also written verbatim to the real stdout);
// onStart is called once the child has been spawned, with its pid;
// onExit is called once, at the end of Run, with the final exit code. Any
// of the three callbacks may be nil.
func New(argv []string, onOutput OutputFunc, onExit ExitFunc, onStart StartFunc) *Proxy {
	return &Proxy{
		argv:     argv,
		onOutput: onOutput,
		onExit:   onExit,
		onStart:  onStart,
		stopCh:   make(chan struct{}),
	}
}

// Stop asks a running proxy to terminate the child with SIGTERM and return
// exit code 130. Safe to call once; calling it more than once panics on the
// closed channel, matching the "stop is a one-shot interrupt" contract.
func (p *Proxy) Stop() {
	close(p.stopCh)
}

// Run spawns the child and blocks until it exits or Stop is called. It
// returns the child's exit code.
func (p *Proxy) Run() (int, error) {
	var restore func()
	if term.IsTerminal(int(os.Stdin.Fd())) {
		old, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err == nil {
			restore = func() { _ = term.Restore(int(os.Stdin.Fd()), old) }
		}
	}
	defer func() {
		if restore != nil {
			restore()
		}
	}()

	rows, cols := terminalSize()

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		log.ErrorErr(log.CatPTY, "failed to start child under pty", err, "argv", p.argv)
		return 0, err
	}
	defer func() { _ = master.Close() }()

	if p.onStart != nil && cmd.Process != nil {
		p.onStart(cmd.Process.Pid)
	}

	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)
	defer signal.Stop(sigwinch)

	go func() {
		for range sigwinch {
			rows, cols := terminalSize()
			_ = pty.Setsize(master, &pty.Winsize{Rows: rows, Cols: cols})
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)

	go func() {
		if _, ok := <-sigint; ok {
			p.Stop()
		}
	}()

	exitCode, interrupted := p.ioLoop(master, cmd)

	if interrupted {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
		_, _ = cmd.Process.Wait()
		exitCode = 130
	}

	if p.onExit != nil {
		p.onExit(exitCode)
	}
	return exitCode, nil
}

// ioLoop multiplexes reads from the master and from stdin, writes each to
// the appropriate destination, and watches for the child's exit, which a
// goroutine blocked in cmd.Wait reports. It returns once the child has
// exited or Stop has been called.
func (p *Proxy) ioLoop(master *os.File, cmd *exec.Cmd) (exitCode int, interrupted bool) {
	masterOutput := make(chan []byte, 64)
	stdinInput := make(chan []byte, 64)

	go relayReader(master, masterOutput)
	go relayReader(os.Stdin, stdinInput)

	childExit := make(chan int, 1)
	go func() {
		err := cmd.Wait()
		childExit <- exitStatus(err)
	}()

	for {
		select {
		case chunk, ok := <-masterOutput:
			if !ok {
				masterOutput = nil
				continue
			}
			_, _ = os.Stdout.Write(chunk)
			if p.onOutput != nil {
				p.onOutput(chunk)
			}

		case chunk, ok := <-stdinInput:
			if !ok {
				stdinInput = nil
				continue
			}
			_, _ = master.Write(chunk)

		case code := <-childExit:
			p.drain(master)
			return code, false

		case <-p.stopCh:
			p.drain(master)
			return 0, true

		case <-time.After(time.Second):
			// Periodic wakeup mirrors the 1-second multiplex timeout of the
			// reference select()-based loop; nothing to do here since reaping
			// happens via the childExit goroutine instead of WNOHANG polling.
		}
	}
}

// drain keeps reading from master until it returns empty or errors,
// preserving the child's final screen contents.
func (p *Proxy) drain(master *os.File) {
	buf := make([]byte, readSize)
	_ = master.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		n, err := master.Read(buf)
		if n > 0 {
			_, _ = os.Stdout.Write(buf[:n])
			if p.onOutput != nil {
				p.onOutput(append([]byte(nil), buf[:n]...))
			}
		}
		if err != nil {
			return
		}
	}
}

// relayReader reads from src in readSize chunks and forwards each to out
// until EOF or an unrecoverable error, then closes out.
func relayReader(src *os.File, out chan<- []byte) {
	defer close(out)
	buf := make([]byte, readSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- chunk
		}
		if err != nil {
			return
		}
	}
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return -1
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return -1
}

// terminalSize reads the controlling terminal's current window size,
// defaulting to 24x80 if stdout is not a tty.
func terminalSize() (rows, cols uint16) {
	fd := int(os.Stdout.Fd())
	if w, h, err := term.GetSize(fd); err == nil {
		return uint16(h), uint16(w)
	}
	return 24, 80
}
