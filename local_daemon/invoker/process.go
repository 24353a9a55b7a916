package invoker

import (
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
)

// KernelProcess is the handle of a spawned kernel process.
type KernelProcess struct {
	name string
	cmd  *exec.Cmd

	mu            sync.Mutex
	status        jupyter.KernelStatus
	statusChanged StatusChangedHandler
	createdAt     time.Time
	closedAt      time.Time

	// closed is closed once the process has exited and its status is final.
	closed chan struct{}

	log logger.Logger
}

func newKernelProcess(name string, cmd *exec.Cmd) *KernelProcess {
	process := &KernelProcess{
		name:   name,
		cmd:    cmd,
		status: jupyter.KernelStatusInitializing,
		closed: make(chan struct{}),
	}
	config.InitLogger(&process.log, "KernelProcess["+name+"] ")
	return process
}

func (p *KernelProcess) start() error {
	if err := p.cmd.Start(); err != nil {
		p.setStatus(jupyter.KernelStatusAbnormal)
		close(p.closed)
		return err
	}

	p.mu.Lock()
	p.createdAt = time.Now()
	p.mu.Unlock()
	p.setStatus(jupyter.KernelStatusRunning)

	go func() {
		if err := p.cmd.Wait(); err != nil {
			p.log.Debug("Kernel process %d exited with error: %v", p.Pid(), err)
		}

		p.mu.Lock()
		p.closedAt = time.Now()
		p.mu.Unlock()

		// Terminated by a signal.
		status := jupyter.KernelStatusAbnormal
		if code := p.cmd.ProcessState.ExitCode(); code >= 0 {
			status = jupyter.KernelStatus(code)
		}
		p.setStatus(status)
		close(p.closed)
	}()

	return nil
}

// Pid returns the process id, or -1 if the process never started.
func (p *KernelProcess) Pid() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Exited is closed once the process has exited.
func (p *KernelProcess) Exited() <-chan struct{} {
	return p.closed
}

// Wait waits for the process to exit and returns its final status.
func (p *KernelProcess) Wait() (jupyter.KernelStatus, error) {
	if p.cmd.Process == nil {
		return jupyter.KernelStatusAbnormal, jupyter.ErrKernelNotLaunched
	}

	<-p.closed
	return p.Status(), nil
}

func (p *KernelProcess) Status() jupyter.KernelStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// ExitCode returns the exit code of the process, if it has exited.
func (p *KernelProcess) ExitCode() (int, bool) {
	select {
	case <-p.closed:
		if p.cmd.ProcessState == nil {
			return -1, false
		}
		return p.cmd.ProcessState.ExitCode(), true
	default:
		return -1, false
	}
}

// Interrupt asks the kernel to abort the code it is running.
func (p *KernelProcess) Interrupt() error {
	return p.signal(syscall.SIGINT)
}

// Shutdown asks the kernel process to exit.
func (p *KernelProcess) Shutdown() error {
	return p.signal(syscall.SIGTERM)
}

// Kill stops the kernel process immediately.
func (p *KernelProcess) Kill() error {
	if p.cmd.Process == nil {
		return jupyter.ErrKernelNotLaunched
	}

	p.log.Debug("Killing kernel process %d...", p.Pid())
	if err := p.cmd.Process.Kill(); err != nil && !p.hasExited() {
		p.log.Error("Error while attempting to kill process %d: %v", p.Pid(), err)
		return err
	}
	return nil
}

// Expired returns true if the process exited more than timeout ago.
func (p *KernelProcess) Expired(timeout time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closedAt.IsZero() && p.closedAt.Add(timeout).Before(time.Now())
}

// Uptime returns how long the process has been (or was) running.
func (p *KernelProcess) Uptime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.createdAt.IsZero() {
		return 0
	} else if !p.closedAt.IsZero() {
		return p.closedAt.Sub(p.createdAt)
	}
	return time.Since(p.createdAt)
}

// OnStatusChanged registers a callback invoked on every status change.
func (p *KernelProcess) OnStatusChanged(handler StatusChangedHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanged = handler
}

func (p *KernelProcess) signal(sig syscall.Signal) error {
	if p.cmd.Process == nil {
		return jupyter.ErrKernelNotLaunched
	} else if p.hasExited() {
		return jupyter.ErrKernelClosed
	}

	p.log.Debug("Signaling kernel process %d with %v...", p.Pid(), sig)
	return p.cmd.Process.Signal(sig)
}

func (p *KernelProcess) hasExited() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *KernelProcess) setStatus(status jupyter.KernelStatus) {
	p.mu.Lock()
	old := p.status
	p.status = status
	handler := p.statusChanged
	p.mu.Unlock()

	if old != status && handler != nil {
		handler(old, status)
	}
}
