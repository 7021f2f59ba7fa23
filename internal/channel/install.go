package channel

import (
	"fmt"
	"log/slog"
)

// InstallName is the name a Channel is registered under by Install.
const InstallName = "ws"

// Registrar is a host that can hold named services.
type Registrar interface {
	Register(name string, svc any)
}

// Install creates one Channel and registers it with host under InstallName.
// If host is not a Registrar nothing is created, a warning is logged, and
// Install returns nil.
func Install(host any, address string, opts Options, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}

	reg, ok := host.(Registrar)
	if !ok {
		logger.Warn("cannot install channel: host does not accept services",
			"host_type", fmt.Sprintf("%T", host),
		)
		return nil
	}

	c := New(address, opts, logger)
	reg.Register(InstallName, c)
	return c
}
