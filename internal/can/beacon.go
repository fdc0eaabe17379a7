package can

import (
	"context"
	"encoding/xml"
	"errors"
	"net"
	"net/url"
	"time"
)

const (
	// socketcand daemons broadcast their beacon on this port
	BeaconPort = 42000
)

// Beacon is the discovery announcement of a socketcand daemon.
type Beacon struct {
	XMLName     xml.Name    `xml:"CANBeacon"`
	Name        string      `xml:"name,attr"`
	Type        string      `xml:"type,attr"`
	Description string      `xml:"description,attr"`
	URL         string      `xml:"URL"`
	Buses       []BeaconBus `xml:"Bus"`
}

type BeaconBus struct {
	Name string `xml:"name,attr"`
}

func DecodeBeacon(data []byte) (b Beacon, err error) {
	err = xml.Unmarshal(data, &b)

	return
}

// Returns the host:port address of the daemon, taken from its can:// URL.
func (b Beacon) Addr() (addr string, err error) {
	var u *url.URL

	u, err = url.Parse(b.URL)
	if err != nil {
		return
	}

	addr = u.Host

	return
}

// Listens for socketcand beacons on the beacon port until ctx is done,
// calling fn once per daemon.
func ListenBeacons(ctx context.Context, fn func(Beacon)) (err error) {
	var conn net.PacketConn
	var lc net.ListenConfig

	conn, err = lc.ListenPacket(ctx, "udp4", (&net.UDPAddr{Port: BeaconPort}).String())
	if err != nil {
		return
	}
	defer conn.Close()

	err = listenBeacons(ctx, conn, fn)

	return
}

func listenBeacons(ctx context.Context, conn net.PacketConn, fn func(Beacon)) (err error) {
	var buf = make([]byte, 4096)
	var seen = map[string]bool{}
	var b Beacon
	var n int

	for {
		if ctx.Err() != nil {
			return
		}

		err = conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		if err != nil {
			return
		}

		n, _, err = conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error

			if errors.As(err, &ne) && ne.Timeout() {
				err = nil
				continue
			}
			return
		}

		b, err = DecodeBeacon(buf[:n])
		if err != nil {
			// not a beacon
			err = nil
			continue
		}

		if seen[b.URL] {
			continue
		}
		seen[b.URL] = true

		fn(b)
	}
}
