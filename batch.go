package qmux

import (
	"net"
	"os"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// batchSize is the number of messages moved per recvmmsg/sendmmsg call.
const batchSize = 16

// batchConn is satisfied by both *ipv4.PacketConn and *ipv6.PacketConn
// (their Message types alias the same underlying type).
type batchConn interface {
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
	WriteBatch(ms []ipv4.Message, flags int) (int, error)
}

func toBatchConn(c net.PacketConn) batchConn {
	if _, ok := c.(*net.UDPConn); !ok {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", c.LocalAddr().String())
	if err != nil {
		return nil
	}
	if addr.IP.To4() != nil {
		return ipv4.NewPacketConn(c)
	}
	return ipv6.NewPacketConn(c)
}

// batchUnavailable reports whether err means the kernel lacks
// recvmmsg/sendmmsg, in which case plain ReadFrom/WriteTo still works.
func batchUnavailable(err error, op string) bool {
	if operr, ok := err.(*net.OpError); ok {
		if se, ok := operr.Err.(*os.SyscallError); ok {
			return se.Syscall == op
		}
	}
	return false
}

// readLoop drains the socket until a fatal error, preferring batched reads.
func (s *Demux) readLoop() error {
	if xconn := toBatchConn(s.socket); xconn != nil {
		err := s.batchReadLoop(xconn)
		if !batchUnavailable(err, "recvmmsg") {
			return errors.WithStack(err)
		}
		log.Info("batch read unavailable, using ReadFrom")
	}
	return s.defaultReadLoop()
}

func (s *Demux) batchReadLoop(xconn batchConn) error {
	msgs := make([]ipv4.Message, batchSize)
	for k := range msgs {
		msgs[k].Buffers = [][]byte{make([]byte, maxDatagramSize)}
	}
	for {
		count, err := xconn.ReadBatch(msgs, 0)
		if err != nil {
			if errors.Is(err, syscall.ECONNABORTED) {
				log.WithField("err", err).Debug("read aborted")
				continue
			}
			return err
		}
		for i := 0; i < count; i++ {
			msg := &msgs[i]
			if msg.N == 0 || msg.N > maxDatagramSize {
				continue
			}
			d := newDatagram()
			d.data = d.buf[:copy(d.buf[:], msg.Buffers[0][:msg.N])]
			d.addr = msg.Addr
			s.recv(d)
		}
	}
}

func (s *Demux) defaultReadLoop() error {
	for {
		d := newDatagram()
		n, addr, err := s.socket.ReadFrom(d.buf[:])
		if n > 0 {
			// Process returned data first before considering error.
			d.data = d.buf[:n]
			d.addr = addr
			s.recv(d)
		} else {
			freeDatagram(d)
		}
		if err != nil {
			if errors.Is(err, syscall.ECONNABORTED) {
				log.WithField("err", err).Debug("read aborted")
				continue
			}
			return errors.WithStack(err)
		}
	}
}

// txLoop drains the transmit queue. The sender side never blocks on
// completion; failed transmissions are logged and the datagrams dropped.
func (s *Demux) txLoop() {
	xconn := toBatchConn(s.socket)
	msgs := make([]ipv4.Message, batchSize)
	batch := make([]*datagram, 0, batchSize)
	for {
		select {
		case d := <-s.txCh:
			batch = append(batch[:0], d)
		drain:
			for len(batch) < batchSize {
				select {
				case d := <-s.txCh:
					batch = append(batch, d)
				default:
					break drain
				}
			}
			if xconn != nil {
				err := transmitBatch(xconn, msgs, batch)
				if err != nil {
					if batchUnavailable(err, "sendmmsg") {
						xconn = nil
						s.transmitSerial(batch)
					} else {
						log.WithField("err", err).Error("transmit batch")
					}
				}
			} else {
				s.transmitSerial(batch)
			}
			for _, d := range batch {
				freeDatagram(d)
			}
		case <-s.die:
			return
		}
	}
}

func transmitBatch(xconn batchConn, msgs []ipv4.Message, batch []*datagram) error {
	for i, d := range batch {
		msgs[i].Addr = d.addr
		msgs[i].Buffers = [][]byte{d.data}
	}
	vec := msgs[:len(batch)]
	for len(vec) > 0 {
		n, err := xconn.WriteBatch(vec, 0)
		if err != nil {
			return err
		}
		vec = vec[n:]
	}
	return nil
}

func (s *Demux) transmitSerial(batch []*datagram) {
	for _, d := range batch {
		if _, err := s.socket.WriteTo(d.data, d.addr); err != nil {
			log.WithFields(log.Fields{"addr": d.addr, "err": err}).Error("transmit")
		}
	}
}
