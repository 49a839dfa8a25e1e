package modules

import (
	"fmt"

	"github.com/drblury/eventbridge/internal/runtime/bridge"
)

// Defaults returns the base module set in dependency order.
func Defaults() []bridge.Module {
	return []bridge.Module{
		NewSenderModule(),
		NewHandlerModule(),
		NewLowLevelHandlerModule(),
		NewLocalHandlerSenderModule(),
		NewConnectorSenderModule(),
		NewStandardHandlerModule(),
	}
}

// Install adds mods to b in order and stops at the first failure.
func Install(b *bridge.Bridge, mods ...bridge.Module) error {
	for _, m := range mods {
		if err := b.AddModule(m); err != nil {
			return fmt.Errorf("install %T: %w", m, err)
		}
	}
	return nil
}
