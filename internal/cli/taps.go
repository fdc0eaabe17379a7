package cli

import (
	"github.com/rs/zerolog"

	modbus "github.com/fieldbus/modbus-cli"
)

// Logs every event received on events until stop is closed, then logs
// whatever is still buffered. A nil events channel is never read.
func logEvents(log *zerolog.Logger, events <-chan modbus.Event, stop <-chan struct{}) (err error) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, ev)

		case <-stop:
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					logEvent(log, ev)
				default:
					return
				}
			}
		}
	}
}

func logEvent(log *zerolog.Logger, ev modbus.Event) {
	var e = log.Debug().Time("at", ev.Time).Str("source", ev.Source)

	if ev.Txn != 0 {
		e = e.Uint64("txn", ev.Txn).Uint("attempt", ev.Attempt).
			Uint8("unit", ev.UnitId).Uint8("fc", ev.FunctionCode)
	}

	if len(ev.Data) > 0 {
		e = e.Hex("data", ev.Data)
	}

	if ev.Err != nil {
		e = e.Err(ev.Err)
	}

	e.Msg(ev.Kind.String())

	return
}
