package epics

import (
	"errors"
	"fmt"

	"github.com/scusemua/notebook-kernel-manager/common/actions"
)

var (
	ErrMissingKernel = errors.New("action carries no kernel")
	ErrUnknownKernel = errors.New("unknown kernel")
)

// ErrUnexpectedAction is returned when an epic is handed an action it does not accept.
type ErrUnexpectedAction struct {
	Epic   string
	Action actions.Action
}

func (e *ErrUnexpectedAction) Error() string {
	return fmt.Sprintf("epic %s cannot handle %s", e.Epic, e.Action.Type())
}
