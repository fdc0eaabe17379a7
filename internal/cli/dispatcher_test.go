package cli

import (
	"context"
	"errors"
	"reflect"
	"testing"

	modbus "github.com/fieldbus/modbus-cli"
	"github.com/fieldbus/modbus-cli/internal/apperr"
)

func TestParseAndDispatch(t *testing.T) {
	for _, c := range []struct {
		args []string
		op   string
		want []interface{}
	}{
		{[]string{"read", "holding", "0", "3"}, "ReadHoldingRegisters", []interface{}{uint16(0), uint16(3)}},
		{[]string{"read", "coil"}, "ReadCoils", []interface{}{uint16(0), uint16(1)}},
		{[]string{"read", "discrete", "0x10"}, "ReadDiscreteInputs", []interface{}{uint16(16), uint16(1)}},
		{[]string{"read", "input", "7", "0x7d"}, "ReadInputRegisters", []interface{}{uint16(7), uint16(125)}},
		{[]string{"read", "slave"}, "ReportSlaveId", nil},
		{[]string{"read", "fifo", "3"}, "ReadFifo", []interface{}{uint8(3), uint8(250)}},
		{[]string{"read", "fifo", "3", "10"}, "ReadFifo", []interface{}{uint8(3), uint8(10)}},
		{[]string{"read", "object", "0x20"}, "ReadObject", []interface{}{uint8(0x20)}},
		{[]string{"read", "memory"}, "ReadMemory", []interface{}{uint16(0), uint8(1)}},
		{[]string{"read", "memory", "0x400", "16"}, "ReadMemory", []interface{}{uint16(0x400), uint8(16)}},
		{[]string{"write", "coil", "5", "1"}, "WriteCoil", []interface{}{uint16(5), true}},
		{[]string{"write", "coil", "5", "0"}, "WriteCoil", []interface{}{uint16(5), false}},
		{[]string{"write", "holding", "0x100", "32", "23"}, "WriteRegisters", []interface{}{uint16(0x100), []uint16{32, 23}}},
		{[]string{"write", "holding", "0x100", "0xffff:2"}, "WriteRegisters", []interface{}{uint16(0x100), []uint16{0xffff, 0xffff}}},
		{[]string{"write", "fifo", "2", "0x41"}, "WriteFifo", []interface{}{uint8(2), []byte{0x41}}},
		{[]string{"write", "object", "1", "0x41:3", "0xff"}, "WriteObject", []interface{}{uint8(1), []byte{0x41, 0x41, 0x41, 0xff}}},
		{[]string{"write", "memory", "0x400", "0x55", "0xAA"}, "WriteMemory", []interface{}{uint16(1024), []byte{0x55, 0xaa}}},
		{[]string{"command", "7", "1", "2"}, "Command", []interface{}{uint8(7), []byte{0x01, 0x02}}},
		{[]string{"command"}, "Command", []interface{}{uint8(0), []byte(nil)}},
		{[]string{"generic", "0x65", "0x01"}, "Generic", []interface{}{uint8(0x65), []byte{0x01}}},
	} {
		var fm = newFakeMaster()
		var cmd Command
		var calls []call
		var err error

		cmd, err = Parse(c.args)
		if err != nil {
			t.Errorf("%v: Parse() should have succeeded, got: %v", c.args, err)
			continue
		}

		_, err = Dispatch(context.Background(), cmd, fm)
		if err != nil {
			t.Errorf("%v: Dispatch() should have succeeded, got: %v", c.args, err)
			continue
		}

		calls = fm.callList()
		if len(calls) != 1 || calls[0].op != c.op {
			t.Errorf("%v: expected a single %s call, got %+v", c.args, c.op, calls)
			continue
		}

		if len(c.want) != 0 && !reflect.DeepEqual(calls[0].args, c.want) {
			t.Errorf("%v: expected args %v, got %v", c.args, c.want, calls[0].args)
		}
	}

	return
}

func TestParseRejects(t *testing.T) {
	for _, c := range []struct {
		args []string
		kind apperr.Kind
	}{
		{nil, apperr.Usage},
		{[]string{"frobnicate"}, apperr.Usage},
		{[]string{"read"}, apperr.Usage},
		{[]string{"read", "registers"}, apperr.Usage},
		{[]string{"write", "slave"}, apperr.Usage},
		{[]string{"write", "holding", "0x100"}, apperr.Argument},
		{[]string{"write", "holding"}, apperr.Argument},
		{[]string{"write", "holding", "0x100", "0x10000"}, apperr.Argument},
		{[]string{"write", "memory", "0x400", "0x100"}, apperr.Argument},
		{[]string{"write", "memory", "0x400", "0x41:0"}, apperr.Argument},
		{[]string{"write", "coil", "5"}, apperr.Argument},
		{[]string{"write", "fifo", "1"}, apperr.Argument},
		{[]string{"read", "holding", "zero"}, apperr.Argument},
		{[]string{"read", "holding", "0", "0"}, apperr.Argument},
		{[]string{"read", "memory", "0", "251"}, apperr.Argument},
		{[]string{"generic"}, apperr.Argument},
		{[]string{"generic", "0x81"}, apperr.Argument},
	} {
		_, err := Parse(c.args)
		if apperr.KindOf(err) != c.kind {
			t.Errorf("%v: expected a %v error, got: %v", c.args, c.kind, err)
		}
	}

	return
}

func TestDispatchWrapsProtocolErrors(t *testing.T) {
	var fm = newFakeMaster()
	var err error

	fm.err = modbus.ErrIllegalDataAddress

	_, err = Dispatch(context.Background(), Command{Action: ActionRead, Type: "object"}, fm)
	if apperr.KindOf(err) != apperr.Protocol {
		t.Errorf("expected a protocol error, got: %v", err)
	}
	if !errors.Is(err, modbus.ErrIllegalDataAddress) {
		t.Errorf("expected ErrIllegalDataAddress to be wrapped, got: %v", err)
	}

	_, err = Dispatch(context.Background(), Command{Action: ActionRead, Type: "nothing"}, fm)
	if apperr.KindOf(err) != apperr.Usage {
		t.Errorf("expected a usage error, got: %v", err)
	}

	return
}
