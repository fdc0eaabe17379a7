package config

import (
	"strings"

	"github.com/spf13/pflag"
)

type binding struct {
	key   string
	flag  string
	env   string
	usage string
}

// Every configuration key, with its flag and environment variable.
var bindings = []binding{
	{"connection", "connection", "MODBUS_CONNECTION", "connection kind"},
	{"transport", "transport", "MODBUS_TRANSPORT", "transport kind"},
	{"port", "port", "MODBUS_PORT",
		"port: device path, host:port, url, bluetooth address or can interface"},
	{"baudrate", "baudrate", "MODBUS_BAUDRATE",
		"serial line speed, in bps"},
	{"canrate", "canrate", "MODBUS_CANRATE",
		"CAN bus rate, in bps"},
	{"canid", "canid", "MODBUS_CANID",
		"preferred J1939 source address (0xfe: any)"},
	{"unit", "unit", "MODBUS_SLAVE",
		"unit id (slave address) of the target device"},
	{"retries", "retries", "MODBUS_RETRIES",
		"number of retries on timeouts and corrupted frames"},
	{"timeout", "timeout", "MODBUS_TIMEOUT",
		"transaction timeout, in milliseconds"},
	{"concurrent", "concurrent", "MODBUS_CONCURRENT",
		"maximum number of queued transactions"},
	{"ws.attempts", "ws-attempts", "",
		"websocket reconnection attempts"},
	{"ws.delay", "ws-delay", "",
		"initial websocket reconnection delay, in milliseconds"},
	{"ws.maxdelay", "ws-max-delay", "",
		"maximum websocket reconnection delay, in milliseconds"},
	{"ws.timeout", "ws-timeout", "",
		"websocket handshake timeout, in milliseconds"},
}

var aliases = map[string]string{
	"baud":  "baudrate",
	"slave": "unit",
}

// Registers one flag per configuration key on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	var defaults = Builtins().settings()

	for _, b := range bindings {
		switch def := defaults[b.key].(type) {
		case string:
			fs.String(b.flag, def, usage(b))
		case int:
			fs.Int(b.flag, def, usage(b))
		}
	}

	return
}

// Returns the help text of b, listing the accepted values of kind flags.
func usage(b binding) (s string) {
	var names []string

	switch b.key {
	case "connection":
		for _, k := range ConnectionKinds() {
			if k != Generic {
				names = append(names, string(k))
			}
		}
	case "transport":
		for _, k := range TransportKinds() {
			names = append(names, string(k))
		}
	default:
		s = b.usage
		return
	}

	s = b.usage + ": " + strings.Join(names, ", ")

	return
}

// NormalizeFlagName maps flag aliases (--baud, --slave) to their
// canonical names. Use it with (*pflag.FlagSet).SetNormalizeFunc.
func NormalizeFlagName(fs *pflag.FlagSet, name string) pflag.NormalizedName {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}

	return pflag.NormalizedName(name)
}

// Returns the built-in configuration.
func Builtins() (c Config) {
	c = Config{
		Connection: Serial,
		Transport:  RTU,
		Port:       "/dev/ttyUSB0",
		Baudrate:   115200,
		Canrate:    250000,
		Canid:      0xfe,
		Unit:       1,
		Retries:    1,
		Timeout:    2000,
		Concurrent: 1,
		WS: WebsocketPolicy{
			Attempts: 3,
			Delay:    1000,
			MaxDelay: 5000,
			Timeout:  5000,
		},
	}

	return
}
