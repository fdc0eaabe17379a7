// Package cli implements the modbus command: flag and configuration
// handling, list/show/save modes and the dispatch of one command against
// the configured device.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	modbus "github.com/fieldbus/modbus-cli"
	"github.com/fieldbus/modbus-cli/internal/apperr"
	"github.com/fieldbus/modbus-cli/internal/config"
	"github.com/fieldbus/modbus-cli/internal/connection"
	"github.com/fieldbus/modbus-cli/internal/logging"
)

const longHelp = `
This tool is a modbus command line interface meant to allow quick and easy
interaction with modbus devices over serial lines, TCP/UDP, websockets,
bluetooth LE and CAN (J1939) buses.

Options are taken from the command line, then from MODBUS_* environment
variables, then from the defaults file saved with --save, then from
built-in values.

Available commands:
  read coil|discrete|holding|input [addr] [quantity]
    Read coils, discrete inputs, holding or input registers (defaults: 0 1).
  read slave
    Report the slave id of the device.
  read fifo [id] [max]
    Read up to max values (default 250) off fifo id.
  read object [id]
    Read object id.
  read memory [addr] [length]
    Read length bytes of memory at addr (defaults: 0 1).
  write coil <addr> <value>
    Set (value != 0) or clear the coil at addr.
  write holding <addr> <value> [value...]
    Write one or more holding registers starting at addr.
  write fifo <id> <value>
    Push value onto fifo id.
  write object <id> [bytes...]
    Write object id.
  write memory <addr> [bytes...]
    Write bytes to memory at addr.
  command [id] [bytes...]
    Run command id with bytes as arguments.
  generic <function code> [bytes...]
    Send an arbitrary function code with bytes as payload.

Numbers are decimal or hex (0x prefix). A byte or word written as
value:count stands for count repetitions of value, e.g. 0x41:3.

Examples:
  $ modbus --port /dev/ttyUSB1 --baud 19200 --slave 2 read holding 0x100 5
  Read 5 holding registers at 0x100 from slave 2 on /dev/ttyUSB1.

  $ modbus --connection tcp --transport ip --port 10.0.0.10 --out csv --loop read input 0 2
  Read 2 input registers from 10.0.0.10 port 502 until interrupted, one CSV
  line (elapsed milliseconds and response bytes) per read.

  $ modbus --connection can --port can0 --canid 0x80 write memory 0x400 0x55 0xaa
  Claim J1939 address 0x80 on can0 and write two bytes at memory address 0x400.

  $ modbus -l --connection ble
  Scan for bluetooth peripherals until interrupted.`

type options struct {
	list         bool
	verbose      bool
	save         bool
	show         bool
	skipDefaults bool
	loop         bool
	out          string
	log          string
}

// Runs the modbus command with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) (code int) {
	var opts options
	var cmd *cobra.Command
	var err error

	cmd = &cobra.Command{
		Use:           "modbus [flags] action [type] [args...]",
		Short:         "Issue modbus requests to a single device",
		Long:          longHelp,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			code = run(ctx, cmd, &opts, args, stdout, stderr)
			return nil
		},
	}

	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	fs := cmd.Flags()
	fs.SetNormalizeFunc(config.NormalizeFlagName)
	config.RegisterFlags(fs)
	fs.BoolVarP(&opts.list, "list", "l", false, "list available connections of the configured kind and exit")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug messages, events and responses")
	fs.BoolVar(&opts.save, "save", false, "save the effective configuration as the new defaults")
	fs.BoolVar(&opts.show, "show", false, "print the effective configuration and exit")
	fs.BoolVar(&opts.skipDefaults, "default", false, "ignore the saved defaults")
	fs.BoolVar(&opts.loop, "loop", false, "repeat the command until it fails or is interrupted")
	fs.StringVar(&opts.out, "out", "", "output format: csv")
	fs.StringVar(&opts.log, "log", "", "mirror logs to this file")

	err = cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		code = 1
	}

	return
}

func run(ctx context.Context, cmd *cobra.Command, opts *options, args []string, stdout io.Writer, stderr io.Writer) (code int) {
	var lg *logging.Logger
	var resolver config.Resolver
	var c config.Config
	var command Command
	var output *Output
	var format Format
	var events *modbus.EventBus
	var factory *connection.Factory
	var err error

	lg, err = logging.New(logging.Options{
		Verbose: opts.verbose,
		File:    opts.log,
		Stderr:  stderr,
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		code = 1
		return
	}
	defer lg.Close()

	log := &lg.Logger

	fail := func(err error) int {
		log.Error().Err(err).Msg("aborting")
		return apperr.ExitCode(err)
	}

	resolver = config.Resolver{
		Path:         config.DefaultPath(),
		SkipDefaults: opts.skipDefaults,
		Listing:      opts.list,
		Log:          log,
	}

	c, err = resolver.Resolve(cmd.Flags())
	if err != nil {
		code = fail(err)
		return
	}

	// a bad command line is rejected before anything is saved or opened
	if len(args) > 0 && !opts.list {
		command, err = Parse(args)
		if err != nil {
			code = fail(err)
			return
		}

		format, err = ParseFormat(opts.out)
		if err != nil {
			code = fail(err)
			return
		}
	}

	if opts.save {
		err = config.Save(resolver.Path, c)
		if err != nil {
			code = fail(err)
			return
		}
		log.Info().Str("path", resolver.Path).Msg("defaults saved")
	}

	if opts.show {
		var out []byte

		out, err = c.YAML()
		if err != nil {
			code = fail(err)
			return
		}

		stdout.Write(out)
		return
	}

	factory = &connection.Factory{Log: log}

	if opts.list {
		err = factory.List(ctx, c, func(p connection.Port) {
			fmt.Fprintln(stdout, p)
		})
		if err != nil && ctx.Err() == nil {
			code = fail(err)
		}
		return
	}

	if len(args) == 0 {
		if !opts.save {
			cmd.Help()
		}
		return
	}

	output = &Output{
		Format: format,
		Loop:   opts.loop,
		Stdout: stdout,
		Log:    log,
	}

	events = modbus.NewEventBus(256)
	defer events.Close()
	factory.Events = events

	code = (&Lifecycle{
		Config:  c,
		Command: command,
		Opener:  factory,
		Output:  output,
		Events:  events,
		Log:     log,
	}).Run(ctx)

	return
}
