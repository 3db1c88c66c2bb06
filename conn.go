package qmux

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// connOps is the narrowed capability a connection holds on the
// demultiplexer that created it.
type connOps interface {
	Send(p Packet, c *Conn) error
	markClosed(c *Conn)
}

// Conn is one connection endpoint. It is created by the acceptor on the
// first unmatched long-header packet (or by Attach for locally initiated
// connections), stays pinned to a single worker for its whole lifetime and
// is destroyed by the reaper after it has been marked closed.
type Conn struct {
	cid      []byte // locally issued; table key
	peerCID  []byte // chosen by the peer (SCID of its first packet)
	origDCID []byte // DCID of the client's first Initial

	addr       net.Addr // remote endpoint of the 5-tuple
	socket     net.PacketConn
	worker     *worker
	inbound    bool
	submitTime time.Time

	ops connOps

	mu sync.Mutex // guards peerCID updates

	// closed flips 0->1 exactly once; the winner of the swap enqueues the
	// connection for reaping.
	closed uint32
}

// CID returns the locally issued connection ID.
func (c *Conn) CID() []byte { return c.cid }

// OriginalDCID returns the destination CID of the client's first Initial.
func (c *Conn) OriginalDCID() []byte { return c.origDCID }

// PeerCID returns the connection ID chosen by the peer.
func (c *Conn) PeerCID() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerCID
}

// SetPeerCID records a new peer-chosen connection ID (NEW_CONNECTION_ID).
func (c *Conn) SetPeerCID(cid []byte) {
	c.mu.Lock()
	c.peerCID = append([]byte(nil), cid...)
	c.mu.Unlock()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.addr }

// Inbound reports whether the connection was accepted rather than dialed.
func (c *Conn) Inbound() bool { return c.inbound }

// Send serializes p and submits it to the socket's transmit queue.
func (c *Conn) Send(p Packet) error {
	return c.ops.Send(p, c)
}

// Close marks the connection closed. Further packets for it are answered
// with stateless resets until the reaper removes it from the table.
func (c *Conn) Close() {
	c.ops.markClosed(c)
}

func (c *Conn) isClosed() bool {
	return atomic.LoadUint32(&c.closed) != 0
}

func (c *Conn) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"cid":  fmt.Sprintf("%x", c.cid),
		"addr": c.addr,
	})
}

// worker owns a subset of connections. Datagram callbacks for its
// connections run on its goroutine, giving per-connection FIFO delivery.
type worker struct {
	id     int
	events chan pollEvent
}

func newWorker(id int) *worker {
	return &worker{
		id:     id,
		events: make(chan pollEvent, workerQueueSize),
	}
}

func (w *worker) run(h Handler, die <-chan struct{}) {
	for {
		select {
		case e := <-w.events:
			c := e.conn
			// A close may have raced the dispatch; outstanding events are
			// drained but not delivered.
			if !c.isClosed() {
				h.Datagram(c, e.dgram.data)
			}
			freeDatagram(e.dgram)
		case <-die:
			return
		}
	}
}
