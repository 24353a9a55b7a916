package testing

import (
	"sync"
	"sync/atomic"
)

// FakeProcess stands in for a kernel process. It exits when Exit is called, or on Shutdown if
// ExitOnShutdown is set.
type FakeProcess struct {
	pid            int
	ExitOnShutdown bool

	exited   chan struct{}
	exitOnce sync.Once
	code     atomic.Int32

	Shutdowns atomic.Int32
	Kills     atomic.Int32
}

func NewFakeProcess(pid int) *FakeProcess {
	return &FakeProcess{
		pid:            pid,
		ExitOnShutdown: true,
		exited:         make(chan struct{}),
	}
}

// Exit makes the process exit with the given code. Only the first call has an effect.
func (p *FakeProcess) Exit(code int) {
	p.exitOnce.Do(func() {
		p.code.Store(int32(code))
		close(p.exited)
	})
}

func (p *FakeProcess) Pid() int {
	return p.pid
}

func (p *FakeProcess) Exited() <-chan struct{} {
	return p.exited
}

func (p *FakeProcess) ExitCode() (int, bool) {
	select {
	case <-p.exited:
		return int(p.code.Load()), true
	default:
		return -1, false
	}
}

func (p *FakeProcess) Shutdown() error {
	p.Shutdowns.Add(1)
	if p.ExitOnShutdown {
		p.Exit(0)
	}
	return nil
}

func (p *FakeProcess) Kill() error {
	p.Kills.Add(1)
	p.Exit(-1)
	return nil
}
