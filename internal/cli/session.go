package cli

import (
	"github.com/rs/zerolog"

	modbus "github.com/fieldbus/modbus-cli"
	"github.com/fieldbus/modbus-cli/internal/config"
	"github.com/fieldbus/modbus-cli/internal/connection"
)

// Session is the protocol master bound to an open connection.
type Session interface {
	Master
	Open() error
	Connected() <-chan struct{}
	Close() error
}

// Returns a master running over h, configured from c.
func newSession(h *connection.Handle, c config.Config, events *modbus.EventBus, log *zerolog.Logger) (s Session, err error) {
	var m *modbus.Master

	m, err = modbus.NewMaster(h.Modbus, &modbus.MasterConfiguration{
		UnitId:                uint8(c.Unit),
		MaxRetries:            uint(c.Retries),
		MaxConcurrentRequests: uint(c.Concurrent),
		Events:                events,
		Logger:                log,
	})
	if err != nil {
		return
	}

	s = m

	return
}
