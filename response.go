package modbus

import (
	"fmt"
	"strings"
)

// Response is the outcome of a successful transaction.
// Data holds the response PDU payload following the function code, as
// received on the wire (byte count included where the function code has
// one). Value holds the decoded form, depending on the operation:
//   - []bool for coil and discrete input reads,
//   - []uint16 for register reads and writes,
//   - *SlaveId for report slave id,
//   - *FifoData for fifo reads,
//   - uint8 for fifo, object and memory write acknowledgements,
//   - []byte for everything else.
type Response struct {
	UnitId       uint8
	FunctionCode uint8
	Data         []byte
	Value        interface{}
}

// SlaveId is the decoded response to a report slave id (0x11) request.
type SlaveId struct {
	Id      uint8
	Running bool
	Extra   []byte
}

// FifoData is the decoded response to a read fifo request.
type FifoData struct {
	Status uint8
	Values []byte
}

func (res *Response) String() (s string) {
	var vs string

	switch v := res.Value.(type) {
	case *SlaveId:
		vs = fmt.Sprintf("id: %v, running: %v, extra: % x", v.Id, v.Running, v.Extra)
	case *FifoData:
		vs = fmt.Sprintf("status: 0x%02x, values: % x", v.Status, v.Values)
	case []byte:
		vs = fmt.Sprintf("% x", v)
	case []uint16:
		var parts []string
		for _, w := range v {
			parts = append(parts, fmt.Sprintf("0x%04x", w))
		}
		vs = strings.Join(parts, " ")
	default:
		vs = fmt.Sprintf("%v", v)
	}

	s = fmt.Sprintf("unit %v, fc 0x%02x: %s", res.UnitId, res.FunctionCode, vs)

	return
}

// Returns the response data without its leading byte count, for function
// codes whose responses carry one.
func (res *Response) Bytes() (b []byte) {
	switch res.FunctionCode {
	case fcReadCoils, fcReadDiscreteInputs, fcReadHoldingRegisters,
		fcReadInputRegisters, fcReportSlaveId, fcReadFifo, fcWriteFifo,
		fcReadObject, fcWriteObject, fcReadMemory, fcWriteMemory, fcCommand:
		if len(res.Data) > 0 {
			b = res.Data[1:]
			return
		}
	}

	b = res.Data

	return
}
