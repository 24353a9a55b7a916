package channel

import (
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
)

// Set is the bundle of the four channels of one kernel, all opened with the same identity.
type Set struct {
	Shell   Channel
	IOPub   Channel
	Control Channel
	Stdin   Channel

	identity string
}

// NewSet opens the four channels of the kernel described by info. If any channel cannot be
// created, the ones already opened are closed again.
func NewSet(factory Factory, identity string, info *jupyter.ConnectionInfo) (*Set, error) {
	set := &Set{identity: identity}

	for _, typ := range AllTypes {
		ch, err := factory.CreateChannel(typ, identity, info)
		if err != nil {
			_ = set.Close()
			return nil, errors.Wrapf(err, "failed to create %s channel", typ)
		}
		set.put(typ, ch)
	}

	return set, nil
}

func (s *Set) put(typ Type, ch Channel) {
	switch typ {
	case ShellChannel:
		s.Shell = ch
	case IOPubChannel:
		s.IOPub = ch
	case ControlChannel:
		s.Control = ch
	case StdinChannel:
		s.Stdin = ch
	}
}

// Get returns the channel of the given type.
func (s *Set) Get(typ Type) Channel {
	switch typ {
	case ShellChannel:
		return s.Shell
	case IOPubChannel:
		return s.IOPub
	case ControlChannel:
		return s.Control
	case StdinChannel:
		return s.Stdin
	default:
		return nil
	}
}

func (s *Set) Identity() string {
	return s.identity
}

// Close closes every opened channel. It returns the first error other than ErrChannelClosed.
func (s *Set) Close() error {
	var firstErr error
	for _, typ := range AllTypes {
		if ch := s.Get(typ); ch != nil {
			if err := ch.Close(); err != nil && !errors.Is(err, jupyter.ErrChannelClosed) && firstErr == nil {
				firstErr = errors.Wrapf(err, "failed to close %s channel", typ)
			}
		}
	}
	return firstErr
}
