package config

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fieldbus/modbus-cli/internal/apperr"
)

const (
	defaultsEnv = "MODBUS_DEFAULTS"
)

// six colon- or hyphen-separated hex pairs
var bleAddress = regexp.MustCompile(`^[0-9A-Fa-f]{2}([:-][0-9A-Fa-f]{2}){5}$`)

// Resolver merges flags, environment, the persisted defaults file and
// built-in values into a Config.
type Resolver struct {
	// persisted defaults file, DefaultPath() if empty
	Path string
	// ignore the persisted defaults file (--default)
	SkipDefaults bool
	// list mode: no derived rewrites, no compatibility check
	Listing bool
	Log     *zerolog.Logger
}

// Returns the location of the persisted defaults file.
func DefaultPath() (path string) {
	var dir string
	var err error

	path = os.Getenv(defaultsEnv)
	if path != "" {
		return
	}

	dir, err = os.UserConfigDir()
	if err != nil {
		dir = "."
	}

	path = filepath.Join(dir, "modbus-cli", "defaults.json")

	return
}

// Resolves the effective configuration. Only flags explicitly set on the
// command line override the other layers; flags may be nil.
func (r *Resolver) Resolve(flags *pflag.FlagSet) (c Config, err error) {
	var v *viper.Viper
	var log zerolog.Logger
	var path string

	log = zerolog.Nop()
	if r.Log != nil {
		log = *r.Log
	}

	v = viper.New()

	for key, value := range Builtins().settings() {
		v.SetDefault(key, value)
	}

	for _, b := range bindings {
		if b.env != "" {
			err = v.BindEnv(b.key, b.env)
			if err != nil {
				err = apperr.New(apperr.Config, "bind environment", err)
				return
			}
		}

		if flags == nil {
			continue
		}

		if f := flags.Lookup(b.flag); f != nil {
			err = v.BindPFlag(b.key, f)
			if err != nil {
				err = apperr.New(apperr.Config, "bind flag", err)
				return
			}
		}
	}

	if !r.SkipDefaults {
		path = r.Path
		if path == "" {
			path = DefaultPath()
		}

		// a missing or corrupt file leaves built-ins in place
		err = checkDefaults(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("ignoring persisted defaults")
			err = nil
		} else {
			v.SetConfigFile(path)
			v.SetConfigType("json")

			err = v.ReadInConfig()
			if err != nil {
				log.Debug().Err(err).Str("path", path).Msg("ignoring persisted defaults")
				err = nil
			} else {
				log.Debug().Str("path", path).Msg("loaded persisted defaults")
			}
		}
	}

	err = v.Unmarshal(&c)
	if err != nil {
		err = apperr.New(apperr.Argument, "decode configuration", err)
		return
	}

	err = r.validate(&c)

	return
}

// Reads the defaults file at path on top of the built-ins alone and
// checks that every value it holds is usable.
func checkDefaults(path string) (err error) {
	var v = viper.New()
	var c Config

	for key, value := range Builtins().settings() {
		v.SetDefault(key, value)
	}

	v.SetConfigFile(path)
	v.SetConfigType("json")

	err = v.ReadInConfig()
	if err != nil {
		err = apperr.New(apperr.Config, "read defaults", err)
		return
	}

	err = v.Unmarshal(&c)
	if err != nil {
		err = apperr.New(apperr.Config, "decode defaults", err)
		return
	}

	err = checkKinds(&c)
	if err == nil {
		err = checkRanges(&c)
	}
	if err != nil {
		err = apperr.New(apperr.Config, "check defaults", err)
	}

	return
}

func (r *Resolver) validate(c *Config) (err error) {
	err = checkKinds(c)
	if err != nil {
		return
	}

	if r.Listing {
		return
	}

	if bleAddress.MatchString(c.Port) {
		c.Connection = BLE
		c.Transport = IP
	}

	err = CheckCompatible(c.Connection, c.Transport)
	if err != nil {
		return
	}

	err = checkRanges(c)

	return
}

func checkKinds(c *Config) (err error) {
	c.Connection, err = ParseConnectionKind(string(c.Connection))
	if err != nil {
		return
	}

	if c.Connection == Generic {
		err = apperr.Usagef("check kinds", "connection kind '%s' cannot be selected", Generic)
		return
	}

	c.Transport, err = ParseTransportKind(string(c.Transport))

	return
}

func checkRanges(c *Config) (err error) {
	switch {
	case c.Unit < 0 || c.Unit > 0xff:
		err = apperr.Argumentf("check unit", "unit id %v not in [0, 255]", c.Unit)
	case c.Canid < 0 || c.Canid > 0xfe:
		err = apperr.Argumentf("check canid", "can id %v not in [0, 254]", c.Canid)
	case c.Baudrate <= 0:
		err = apperr.Argumentf("check baudrate", "invalid baud rate %v", c.Baudrate)
	case c.Canrate <= 0:
		err = apperr.Argumentf("check canrate", "invalid can rate %v", c.Canrate)
	case c.Retries < 0:
		err = apperr.Argumentf("check retries", "invalid retry count %v", c.Retries)
	case c.Timeout <= 0:
		err = apperr.Argumentf("check timeout", "invalid timeout %v", c.Timeout)
	case c.Concurrent < 1:
		err = apperr.Argumentf("check concurrent", "invalid concurrency %v", c.Concurrent)
	case c.WS.Attempts < 0 || c.WS.Delay < 0 || c.WS.MaxDelay < 0 || c.WS.Timeout < 0:
		err = apperr.Argumentf("check websocket policy", "invalid policy %+v", c.WS)
	}

	return
}

// Persists c as the defaults file at path, creating its directory.
func Save(path string, c Config) (err error) {
	var v *viper.Viper

	err = os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		err = apperr.New(apperr.Config, "save defaults", err)
		return
	}

	v = viper.New()
	for key, value := range c.settings() {
		v.Set(key, value)
	}

	v.SetConfigType("json")

	err = v.WriteConfigAs(path)
	if err != nil {
		err = apperr.New(apperr.Config, "save defaults", err)
		return
	}

	return
}
