package qmux

import (
	"net"
	"sync"
)

// datagram is a pooled UDP payload buffer, used on both the receive and the
// transmit path.
type datagram struct {
	buf  [maxDatagramSize]byte
	data []byte // always points into buf
	addr net.Addr
}

var datagramPool = sync.Pool{}

func newDatagram() *datagram {
	d := datagramPool.Get()
	if d != nil {
		return d.(*datagram)
	}
	return &datagram{}
}

func freeDatagram(d *datagram) {
	d.data = nil
	d.addr = nil
	datagramPool.Put(d)
}

// pollEvent pairs an accepted datagram with its connection on a worker's
// input queue.
type pollEvent struct {
	conn  *Conn
	dgram *datagram
}
