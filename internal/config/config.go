// Package config resolves the effective configuration of an invocation
// from command line flags, MODBUS_* environment variables, the persisted
// defaults file and built-in values, in that order of precedence.
package config

import (
	"gopkg.in/yaml.v3"
)

// WebsocketPolicy is the reconnection policy of websocket connections.
// Delays and timeouts are in milliseconds.
type WebsocketPolicy struct {
	Attempts int `json:"attempts" yaml:"attempts" mapstructure:"attempts"`
	Delay    int `json:"delay" yaml:"delay" mapstructure:"delay"`
	MaxDelay int `json:"maxdelay" yaml:"maxdelay" mapstructure:"maxdelay"`
	Timeout  int `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// Config is the effective configuration of one invocation. It is produced
// once by a Resolver and never modified afterwards.
type Config struct {
	Connection ConnectionKind  `json:"connection" yaml:"connection" mapstructure:"connection"`
	Transport  TransportKind   `json:"transport" yaml:"transport" mapstructure:"transport"`
	Port       string          `json:"port" yaml:"port" mapstructure:"port"`
	Baudrate   int             `json:"baudrate" yaml:"baudrate" mapstructure:"baudrate"`
	Canrate    int             `json:"canrate" yaml:"canrate" mapstructure:"canrate"`
	Canid      int             `json:"canid" yaml:"canid" mapstructure:"canid"`
	Unit       int             `json:"unit" yaml:"unit" mapstructure:"unit"`
	Retries    int             `json:"retries" yaml:"retries" mapstructure:"retries"`
	Timeout    int             `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	Concurrent int             `json:"concurrent" yaml:"concurrent" mapstructure:"concurrent"`
	WS         WebsocketPolicy `json:"ws" yaml:"ws" mapstructure:"ws"`
}

// Renders the configuration as YAML.
func (c Config) YAML() (out []byte, err error) {
	out, err = yaml.Marshal(c)

	return
}

// Returns the configuration as a flat map of dotted keys, as understood
// by viper.
func (c Config) settings() (s map[string]interface{}) {
	s = map[string]interface{}{
		"connection":  string(c.Connection),
		"transport":   string(c.Transport),
		"port":        c.Port,
		"baudrate":    c.Baudrate,
		"canrate":     c.Canrate,
		"canid":       c.Canid,
		"unit":        c.Unit,
		"retries":     c.Retries,
		"timeout":     c.Timeout,
		"concurrent":  c.Concurrent,
		"ws.attempts": c.WS.Attempts,
		"ws.delay":    c.WS.Delay,
		"ws.maxdelay": c.WS.MaxDelay,
		"ws.timeout":  c.WS.Timeout,
	}

	return
}
