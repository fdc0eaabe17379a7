package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	modbus "github.com/fieldbus/modbus-cli"
	"github.com/fieldbus/modbus-cli/internal/apperr"
)

type Format string

const (
	FormatDefault Format = ""
	FormatCSV     Format = "csv"
)

func ParseFormat(s string) (f Format, err error) {
	switch Format(s) {
	case FormatDefault, "default":
		f = FormatDefault
	case FormatCSV:
		f = FormatCSV
	default:
		err = apperr.Usagef("parse output", "unknown output format '%s'", s)
	}

	return
}

// Output renders command results and decides whether to go on.
type Output struct {
	Format Format
	Loop   bool
	Stdout io.Writer
	Log    *zerolog.Logger

	lock  sync.Mutex
	start time.Time
	now   func() time.Time
}

// Sets the reference time of the elapsed column of CSV lines.
func (o *Output) Start(t time.Time) {
	o.lock.Lock()
	defer o.lock.Unlock()

	o.start = t

	return
}

// Handles the outcome of one dispatch. next is true if the command
// should run again, code is the exit code otherwise.
func (o *Output) Handle(err error, res *modbus.Response) (next bool, code int) {
	var log = o.logger()

	if err != nil {
		log.Error().Err(err).Msg("command failed")
		code = apperr.ExitCode(err)
		return
	}

	switch o.Format {
	case FormatCSV:
		fmt.Fprintln(o.Stdout, o.csvLine(res))
	default:
		log.Info().Msg(res.String())
	}

	next = o.Loop

	return
}

// elapsedMs,b0,b1,... with bytes in decimal.
func (o *Output) csvLine(res *modbus.Response) (line string) {
	var fields []string
	var now time.Time

	o.lock.Lock()
	defer o.lock.Unlock()

	if o.now != nil {
		now = o.now()
	} else {
		now = time.Now()
	}

	fields = append(fields, strconv.FormatInt(now.Sub(o.start).Milliseconds(), 10))
	for _, b := range res.Bytes() {
		fields = append(fields, strconv.Itoa(int(b)))
	}

	line = strings.Join(fields, ",")

	return
}

func (o *Output) logger() (l *zerolog.Logger) {
	var nop zerolog.Logger

	if o.Log != nil {
		l = o.Log
		return
	}

	nop = zerolog.Nop()
	l = &nop

	return
}
