package connection

import (
	"io"
	"testing"
)

// Writes every slice of bytes received on in to out.
func feedTestPipe(t *testing.T, in chan []byte, out io.WriteCloser) {
	var err error
	var txbuf []byte

	for {
		txbuf = <-in

		_, err = out.Write(txbuf)
		if err != nil {
			t.Errorf("failed to write to test pipe: %v", err)
			return
		}
	}
}

// Returns every event currently queued on ch.
func drainEvents[E any](ch <-chan E) (evs []E) {
	for {
		select {
		case ev := <-ch:
			evs = append(evs, ev)
		default:
			return
		}
	}
}
