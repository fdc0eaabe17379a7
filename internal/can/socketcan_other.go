//go:build !linux

package can

import (
	"time"
)

// SocketCAN is only available on linux.
type SocketCAN struct{}

func OpenSocketCAN(ifname string) (s *SocketCAN, err error) {
	err = ErrUnsupported

	return
}

func (s *SocketCAN) Send(f Frame) (err error) {
	err = ErrUnsupported

	return
}

func (s *SocketCAN) Receive(deadline time.Time) (f Frame, err error) {
	err = ErrUnsupported

	return
}

func (s *SocketCAN) Close() (err error) {
	return
}

func ListInterfaces() (names []string, err error) {
	return
}
