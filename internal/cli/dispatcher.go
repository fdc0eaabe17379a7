package cli

import (
	"context"
	"fmt"

	modbus "github.com/fieldbus/modbus-cli"
	"github.com/fieldbus/modbus-cli/internal/apperr"
	"github.com/fieldbus/modbus-cli/internal/arglex"
)

type Action string

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionCommand Action = "command"
	ActionGeneric Action = "generic"
)

const (
	defaultFifoMax = 250
	maxVendorData  = 250
)

// Master is the operation surface commands are dispatched to.
type Master interface {
	ReadCoils(ctx context.Context, addr uint16, quantity uint16) (*modbus.Response, error)
	ReadDiscreteInputs(ctx context.Context, addr uint16, quantity uint16) (*modbus.Response, error)
	ReadHoldingRegisters(ctx context.Context, addr uint16, quantity uint16) (*modbus.Response, error)
	ReadInputRegisters(ctx context.Context, addr uint16, quantity uint16) (*modbus.Response, error)
	WriteCoil(ctx context.Context, addr uint16, value bool) (*modbus.Response, error)
	WriteRegisters(ctx context.Context, addr uint16, values []uint16) (*modbus.Response, error)
	ReportSlaveId(ctx context.Context) (*modbus.Response, error)
	ReadFifo(ctx context.Context, id uint8, max uint8) (*modbus.Response, error)
	WriteFifo(ctx context.Context, id uint8, values []byte) (*modbus.Response, error)
	ReadObject(ctx context.Context, id uint8) (*modbus.Response, error)
	WriteObject(ctx context.Context, id uint8, data []byte) (*modbus.Response, error)
	ReadMemory(ctx context.Context, addr uint16, length uint8) (*modbus.Response, error)
	WriteMemory(ctx context.Context, addr uint16, data []byte) (*modbus.Response, error)
	Command(ctx context.Context, id uint8, data []byte) (*modbus.Response, error)
	Generic(ctx context.Context, functionCode uint8, data []byte) (*modbus.Response, error)
}

// Command is one parsed request. Which fields are meaningful depends on
// Action and Type.
type Command struct {
	Action   Action
	Type     string
	Address  uint16
	ID       uint8
	Quantity uint16
	Value    uint16
	Bytes    []byte
	Words    []uint16
}

func (c Command) String() (s string) {
	s = string(c.Action)
	if c.Type != "" {
		s += " " + c.Type
	}

	return
}

// Parses action [type] [args...] into a command. Unknown actions and types
// are usage errors, malformed numbers argument errors.
func Parse(args []string) (cmd Command, err error) {
	var n int

	if len(args) == 0 {
		err = apperr.Usagef("parse", "no action given")
		return
	}

	cmd.Action = Action(args[0])

	switch cmd.Action {
	case ActionRead, ActionWrite:
		if len(args) < 2 {
			err = apperr.Usagef("parse", "%s: no type given", cmd.Action)
			return
		}
		cmd.Type = args[1]

		if cmd.Action == ActionRead {
			err = parseRead(&cmd, args[2:])
		} else {
			err = parseWrite(&cmd, args[2:])
		}

	case ActionCommand:
		n, err = arglex.RangedOr(args, 1, 0, 0, 0xff)
		if err != nil {
			return
		}
		cmd.ID = uint8(n)

		cmd.Bytes, err = byteSequence(args, 2)

	case ActionGeneric:
		n, err = required(args, 1, "function code", 0x01, 0x7f)
		if err != nil {
			return
		}
		cmd.ID = uint8(n)

		cmd.Bytes, err = byteSequence(args, 2)

	default:
		err = apperr.Usagef("parse", "unknown action '%s'", args[0])
	}

	if err != nil {
		cmd = Command{}
	}

	return
}

func parseRead(cmd *Command, args []string) (err error) {
	var n int

	switch cmd.Type {
	case "coil", "discrete", "holding", "input":
		n, err = arglex.RangedOr(args, 0, 0, 0, 0xffff)
		if err != nil {
			return
		}
		cmd.Address = uint16(n)

		n, err = arglex.RangedOr(args, 1, 1, 1, 0xffff)
		cmd.Quantity = uint16(n)

	case "slave":

	case "fifo":
		n, err = arglex.RangedOr(args, 0, 0, 0, 0xff)
		if err != nil {
			return
		}
		cmd.ID = uint8(n)

		n, err = arglex.RangedOr(args, 1, defaultFifoMax, 1, maxVendorData)
		cmd.Quantity = uint16(n)

	case "object":
		n, err = arglex.RangedOr(args, 0, 0, 0, 0xff)
		cmd.ID = uint8(n)

	case "memory":
		n, err = arglex.RangedOr(args, 0, 0, 0, 0xffff)
		if err != nil {
			return
		}
		cmd.Address = uint16(n)

		n, err = arglex.RangedOr(args, 1, 1, 1, maxVendorData)
		cmd.Quantity = uint16(n)

	default:
		err = apperr.Usagef("parse", "unknown read type '%s'", cmd.Type)
	}

	return
}

func parseWrite(cmd *Command, args []string) (err error) {
	var n int

	switch cmd.Type {
	case "coil":
		n, err = required(args, 0, "address", 0, 0xffff)
		if err != nil {
			return
		}
		cmd.Address = uint16(n)

		n, err = required(args, 1, "value", 0, 0xffff)
		cmd.Value = uint16(n)

	case "holding":
		// address followed by at least one value
		cmd.Words, err = arglex.ParseWordSequence(args)
		if err != nil {
			return
		}

		if len(cmd.Words) < 2 {
			err = apperr.Argumentf("parse", "write holding needs an address and at least one value")
			return
		}

		cmd.Address = cmd.Words[0]
		cmd.Words = cmd.Words[1:]

	case "fifo":
		n, err = required(args, 0, "fifo id", 0, 0xff)
		if err != nil {
			return
		}
		cmd.ID = uint8(n)

		n, err = required(args, 1, "value", 0, 0xff)
		cmd.Bytes = []byte{uint8(n)}

	case "object":
		n, err = required(args, 0, "object id", 0, 0xff)
		if err != nil {
			return
		}
		cmd.ID = uint8(n)

		cmd.Bytes, err = byteSequence(args, 1)

	case "memory":
		n, err = required(args, 0, "address", 0, 0xffff)
		if err != nil {
			return
		}
		cmd.Address = uint16(n)

		cmd.Bytes, err = byteSequence(args, 1)

	default:
		err = apperr.Usagef("parse", "unknown write type '%s'", cmd.Type)
	}

	return
}

// Parses args[i], which must be present.
func required(args []string, i int, what string, min int, max int) (n int, err error) {
	if i >= len(args) {
		err = apperr.Argumentf("parse", "missing %s", what)
		return
	}

	n, err = arglex.RangedOr(args, i, 0, min, max)

	return
}

func byteSequence(args []string, from int) (out []byte, err error) {
	if from >= len(args) {
		return
	}

	out, err = arglex.ParseByteSequence(args[from:])

	return
}

// Runs cmd against m.
func Dispatch(ctx context.Context, cmd Command, m Master) (res *modbus.Response, err error) {
	switch cmd.Action {
	case ActionRead:
		switch cmd.Type {
		case "coil":
			res, err = m.ReadCoils(ctx, cmd.Address, cmd.Quantity)
		case "discrete":
			res, err = m.ReadDiscreteInputs(ctx, cmd.Address, cmd.Quantity)
		case "holding":
			res, err = m.ReadHoldingRegisters(ctx, cmd.Address, cmd.Quantity)
		case "input":
			res, err = m.ReadInputRegisters(ctx, cmd.Address, cmd.Quantity)
		case "slave":
			res, err = m.ReportSlaveId(ctx)
		case "fifo":
			res, err = m.ReadFifo(ctx, cmd.ID, uint8(cmd.Quantity))
		case "object":
			res, err = m.ReadObject(ctx, cmd.ID)
		case "memory":
			res, err = m.ReadMemory(ctx, cmd.Address, uint8(cmd.Quantity))
		default:
			err = unknownCommand(cmd)
		}

	case ActionWrite:
		switch cmd.Type {
		case "coil":
			res, err = m.WriteCoil(ctx, cmd.Address, cmd.Value != 0)
		case "holding":
			res, err = m.WriteRegisters(ctx, cmd.Address, cmd.Words)
		case "fifo":
			res, err = m.WriteFifo(ctx, cmd.ID, cmd.Bytes)
		case "object":
			res, err = m.WriteObject(ctx, cmd.ID, cmd.Bytes)
		case "memory":
			res, err = m.WriteMemory(ctx, cmd.Address, cmd.Bytes)
		default:
			err = unknownCommand(cmd)
		}

	case ActionCommand:
		res, err = m.Command(ctx, cmd.ID, cmd.Bytes)

	case ActionGeneric:
		res, err = m.Generic(ctx, cmd.ID, cmd.Bytes)

	default:
		err = unknownCommand(cmd)
	}

	if err != nil && apperr.KindOf(err) == 0 {
		err = apperr.New(apperr.Protocol, cmd.String(), err)
	}

	return
}

func unknownCommand(cmd Command) error {
	return apperr.New(apperr.Usage, "dispatch", fmt.Errorf("unknown command '%s'", cmd))
}
