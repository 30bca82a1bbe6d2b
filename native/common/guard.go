package common

import (
	"errors"
	"fmt"
)

// ErrModulePaused rejects mutations against an administratively paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView answers whether a named module is currently paused. The registry
// and fund engines consult it before every mutation; reads are never gated.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused, wrapped with the module name, when the view
// reports the module as paused. A nil view disables pausing entirely.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}
