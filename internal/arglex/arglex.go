// Package arglex parses the positional arguments of a command: numbers
// (decimal or 0x-prefixed hex) and byte/word sequences made of literals and
// value:count runs.
package arglex

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fieldbus/modbus-cli/internal/apperr"
)

var (
	ErrInvalidNumber = errors.New("invalid number")
	ErrOutOfRange    = errors.New("value out of range")
	ErrInvalidRun    = errors.New("invalid run")
)

const (
	maxRunCount = 65535
)

// Parses a decimal or 0x-prefixed hexadecimal number.
func ParseNumber(token string) (n int, err error) {
	var val int64

	switch {
	case strings.HasPrefix(token, "0x"), strings.HasPrefix(token, "0X"):
		val, err = strconv.ParseInt(token[2:], 16, 64)
	default:
		val, err = strconv.ParseInt(token, 10, 64)
	}

	if err != nil {
		err = apperr.New(apperr.Argument, "parse number",
			fmt.Errorf("%q: %w", token, ErrInvalidNumber))
		return
	}

	n = int(val)

	return
}

// Parses tokens[i] as a number, or returns def when there is no such token.
// A token that is present but not a number is an error, never def.
func NumberOr(tokens []string, i int, def int) (n int, err error) {
	if i < 0 || i >= len(tokens) {
		n = def
		return
	}

	n, err = ParseNumber(tokens[i])

	return
}

// Parses tokens[i] as a number within [min, max], or returns def when there
// is no such token.
func RangedOr(tokens []string, i int, def int, min int, max int) (n int, err error) {
	n, err = NumberOr(tokens, i, def)
	if err != nil {
		return
	}

	if n < min || n > max {
		err = apperr.New(apperr.Argument, "parse number",
			fmt.Errorf("%v not in [%v, %v]: %w", n, min, max, ErrOutOfRange))
	}

	return
}

// Parses a byte sequence. Each token is either a literal (0-255) or a
// value:count run expanding to count repetitions of value.
func ParseByteSequence(tokens []string) (out []byte, err error) {
	var vals []int

	vals, err = parseSequence(tokens, 0xff)
	if err != nil {
		return
	}

	out = make([]byte, len(vals))
	for i, v := range vals {
		out[i] = byte(v)
	}

	return
}

// Parses a word sequence, with the same syntax as byte sequences and
// values in the 0-65535 range.
func ParseWordSequence(tokens []string) (out []uint16, err error) {
	var vals []int

	vals, err = parseSequence(tokens, 0xffff)
	if err != nil {
		return
	}

	out = make([]uint16, len(vals))
	for i, v := range vals {
		out[i] = uint16(v)
	}

	return
}

func parseSequence(tokens []string, max int) (out []int, err error) {
	for _, token := range tokens {
		var value int
		var count int

		value, count, err = parseRun(token, max)
		if err != nil {
			return
		}

		for i := 0; i < count; i++ {
			out = append(out, value)
		}
	}

	return
}

// Parses a literal (count 1) or a value:count run.
func parseRun(token string, max int) (value int, count int, err error) {
	var parts []string

	parts = strings.Split(token, ":")
	if len(parts) > 2 {
		err = apperr.New(apperr.Argument, "parse run", fmt.Errorf("%q: %w", token, ErrInvalidRun))
		return
	}

	value, err = ParseNumber(parts[0])
	if err != nil {
		return
	}

	if value < 0 || value > max {
		err = apperr.New(apperr.Argument, "parse sequence",
			fmt.Errorf("%q not in [0, %v]: %w", token, max, ErrOutOfRange))
		return
	}

	count = 1
	if len(parts) == 2 {
		count, err = ParseNumber(parts[1])
		if err != nil {
			return
		}

		if count < 1 || count > maxRunCount {
			err = apperr.New(apperr.Argument, "parse run",
				fmt.Errorf("%q: count not in [1, %v]: %w", token, maxRunCount, ErrInvalidRun))
			return
		}
	}

	return
}
