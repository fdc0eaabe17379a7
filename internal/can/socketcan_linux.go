package can

import (
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// struct can_frame: id (4), dlc (1), padding (3), data (8)
	canFrameLength = 16
	// ARPHRD_CAN
	canInterfaceType = "280"
)

// SocketCAN is a CAN bus reached through a raw SocketCAN socket.
type SocketCAN struct {
	fd     int
	rxLock sync.Mutex
	closed bool
	lock   sync.Mutex
}

// Opens a raw CAN socket bound to interface ifname (e.g. can0).
// The bus rate is a property of the interface and is not set here.
func OpenSocketCAN(ifname string) (s *SocketCAN, err error) {
	var iface *net.Interface
	var fd int

	iface, err = net.InterfaceByName(ifname)
	if err != nil {
		return
	}

	fd, err = unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return
	}

	err = unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index})
	if err != nil {
		unix.Close(fd)
		return
	}

	s = &SocketCAN{
		fd: fd,
	}

	return
}

func (s *SocketCAN) Send(f Frame) (err error) {
	var buf [canFrameLength]byte
	var id uint32

	err = f.Validate()
	if err != nil {
		return
	}

	id = f.Id
	if f.Extended {
		id |= unix.CAN_EFF_FLAG
	}

	binary.NativeEndian.PutUint32(buf[0:4], id)
	buf[4] = uint8(len(f.Data))
	copy(buf[8:], f.Data)

	_, err = unix.Write(s.fd, buf[:])

	return
}

// Receives the next data frame. Error and remote frames are skipped.
func (s *SocketCAN) Receive(deadline time.Time) (f Frame, err error) {
	var buf [canFrameLength]byte
	var remaining time.Duration
	var tv unix.Timeval
	var id uint32
	var n int

	s.rxLock.Lock()
	defer s.rxLock.Unlock()

	for {
		remaining = time.Until(deadline)
		if remaining <= 0 {
			err = ErrTimeout
			return
		}

		tv = unix.NsecToTimeval(remaining.Nanoseconds())
		err = unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
		if err != nil {
			return
		}

		n, err = unix.Read(s.fd, buf[:])
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			err = ErrTimeout
			return
		}
		if errors.Is(err, unix.EBADF) {
			err = ErrClosed
			return
		}
		if err != nil {
			return
		}

		if n != canFrameLength {
			continue
		}

		id = binary.NativeEndian.Uint32(buf[0:4])
		if id&(unix.CAN_ERR_FLAG|unix.CAN_RTR_FLAG) != 0 || buf[4] > uint8(maxDataLength) {
			continue
		}

		f = Frame{
			Extended: id&unix.CAN_EFF_FLAG != 0,
			Data:     append([]byte(nil), buf[8:8+buf[4]]...),
		}
		if f.Extended {
			f.Id = id & unix.CAN_EFF_MASK
		} else {
			f.Id = id & unix.CAN_SFF_MASK
		}

		return
	}
}

func (s *SocketCAN) Close() (err error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	err = unix.Close(s.fd)

	return
}

// Returns the names of the CAN network interfaces of the system.
func ListInterfaces() (names []string, err error) {
	var entries []os.DirEntry
	var kind []byte

	entries, err = os.ReadDir("/sys/class/net")
	if err != nil {
		return
	}

	for _, e := range entries {
		kind, err = os.ReadFile(filepath.Join("/sys/class/net", e.Name(), "type"))
		if err != nil {
			err = nil
			continue
		}

		if strings.TrimSpace(string(kind)) == canInterfaceType {
			names = append(names, e.Name())
		}
	}

	return
}
