package dispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"nexusprof/internal/nexus"
	"nexusprof/internal/oracle"
	"nexusprof/internal/reconstruct"
)

// ackingPeer plays the UI front-end's half of the wire protocol: read the
// session-start control frame (one ack, no body), then read data-batch
// header/body pairs (an ack after each), until the pipe closes.
func ackingPeer(t *testing.T, conn net.Conn) {
	t.Helper()

	if _, _, _, err := readFrame(conn); err != nil {
		return
	}
	if err := writeAck(conn); err != nil {
		return
	}

	for {
		_, _, payload, err := readFrame(conn)
		if err != nil {
			return
		}
		if err := writeAck(conn); err != nil {
			return
		}
		if len(payload) != 4 {
			continue
		}
		n := int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
		if n > 0 {
			buf := make([]byte, n)
			if _, err := readFull(conn, buf); err != nil {
				return
			}
		}
		if err := writeAck(conn); err != nil {
			return
		}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TestDispatcherEmptyStreamFlushesFinalSegment exercises Run's session
// handshake and shutdown path end to end over a real net.Conn: the control
// frame goes out and gets acked, end-of-data drains immediately, and the
// terminating segmentation flush fires exactly once.
func TestDispatcherEmptyStreamFlushesFinalSegment(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	go ackingPeer(t, client)

	o := &fakeOracle{instrs: map[uint64]*oracle.Decoded{}}
	m := reconstruct.NewMachine(o, nil)
	p := nexus.NewParser(0, nil)

	var calls []segCall
	d := NewDispatcher(1, server, p, m, 8192, func(c uint64, e bool) {
		calls = append(calls, segCall{c, e})
	}, nil)

	d.SetEndOfData()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(calls) != 2 || calls[0] != (segCall{0, false}) || !calls[1].isEmptyFile {
		t.Fatalf("got %+v, want a final empty-file pair", calls)
	}
}

// fakeOracle is shared test scaffolding, mirroring reconstruct's own
// fakeOracle, kept package-local to avoid exporting test helpers.
type fakeOracle struct {
	instrs map[uint64]*oracle.Decoded
}

func (f *fakeOracle) Resolve(addr uint64) (*oracle.Lookup, error) {
	d, ok := f.instrs[addr]
	if !ok {
		return nil, notFoundErr(addr)
	}
	return &oracle.Lookup{Addr: addr, Instr: d}, nil
}

type notFoundErr uint64

func (e notFoundErr) Error() string { return "no instruction at address" }
