package modbus

import (
	"github.com/rs/zerolog"
)

type logger struct {
	prefix string
	zl     zerolog.Logger
}

// Returns a logger tagging every line with the given component prefix.
// A nil customLogger discards all output.
func newLogger(prefix string, customLogger *zerolog.Logger) (l *logger) {
	l = &logger{
		prefix: prefix,
		zl:     zerolog.Nop(),
	}

	if customLogger != nil {
		l.zl = customLogger.With().Str("component", prefix).Logger()
	}

	return
}

func (l *logger) Debugf(format string, msg ...interface{}) {
	l.zl.Debug().Msgf(format, msg...)

	return
}

func (l *logger) Info(msg string) {
	l.zl.Info().Msg(msg)

	return
}

func (l *logger) Infof(format string, msg ...interface{}) {
	l.zl.Info().Msgf(format, msg...)

	return
}

func (l *logger) Warning(msg string) {
	l.zl.Warn().Msg(msg)

	return
}

func (l *logger) Warningf(format string, msg ...interface{}) {
	l.zl.Warn().Msgf(format, msg...)

	return
}

func (l *logger) Error(msg string) {
	l.zl.Error().Msg(msg)

	return
}

func (l *logger) Errorf(format string, msg ...interface{}) {
	l.zl.Error().Msgf(format, msg...)

	return
}
