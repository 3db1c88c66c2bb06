package qmux

import (
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/trafficlab/qmux/wire"
)

// Demux accepts datagrams from one UDP socket and dispatches them to
// per-connection workers.
type Demux struct {
	config   *Config
	serverID []byte
	socket   net.PacketConn
	table    *connTable
	handler  Handler

	workers    []*worker
	nextWorker uint32

	// closedCh is the multi-producer single-consumer queue of connections
	// awaiting teardown; only the reaper receives from it.
	closedCh chan *Conn
	txCh     chan *datagram

	startOnce sync.Once
	closeOnce sync.Once
	die       chan struct{}
}

// NewDemux creates a demultiplexer for the given configuration.
func NewDemux(config *Config) (*Demux, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	serverID, err := config.serverID()
	if err != nil {
		return nil, err
	}
	s := &Demux{
		config:   config,
		serverID: serverID,
		table:    newConnTable(config.ConnectionTableSize),
		handler:  noopHandler{},
		closedCh: make(chan *Conn, config.ConnectionTableSize),
		txCh:     make(chan *datagram, workerQueueSize),
		die:      make(chan struct{}),
	}
	for i := 0; i < config.Workers; i++ {
		s.workers = append(s.workers, newWorker(i))
	}
	return s, nil
}

// SetHandler sets the consumer of demultiplexed traffic. Must be called
// before Serve.
func (s *Demux) SetHandler(h Handler) {
	s.handler = h
}

// Listen opens the UDP socket on addr.
func (s *Demux) Listen(addr string) error {
	socket, err := net.ListenPacket("udp", addr)
	if err != nil {
		return errors.WithStack(err)
	}
	s.socket = socket
	return nil
}

// Serve reads the socket until a fatal error. Datagram handling errors are
// local: malformed packets are dropped, unmatched short-header packets are
// answered with a stateless reset.
func (s *Demux) Serve(socket net.PacketConn) error {
	if socket != nil {
		s.socket = socket
	}
	if s.socket == nil {
		return errors.New("socket not listening")
	}
	s.start()
	log.WithFields(log.Fields{
		"addr":    s.socket.LocalAddr(),
		"workers": len(s.workers),
	}).Info("demux serving")
	return s.readLoop()
}

// start spins up workers, the transmit loop and the reaper.
func (s *Demux) start() {
	s.startOnce.Do(func() {
		for _, w := range s.workers {
			go w.run(s.handler, s.die)
		}
		go s.txLoop()
		go s.reapLoop()
	})
}

// Close stops the workers, the transmit loop and the reaper, and closes the
// socket, failing the read loop.
func (s *Demux) Close() error {
	s.closeOnce.Do(func() {
		close(s.die)
	})
	if s.socket != nil {
		return s.socket.Close()
	}
	return nil
}

// recv runs the accept decision for one datagram. It takes ownership of d.
func (s *Demux) recv(d *datagram) {
	var h wire.Header
	if _, err := h.Decode(d.data, s.config.CIDLength); err != nil {
		log.WithFields(log.Fields{"addr": d.addr, "err": err}).Debug("drop undecodable packet")
		freeDatagram(d)
		return
	}

	c := s.table.lookup(h.DCID, d.addr.String())

	// RFC 9000 §10.3: a packet that cannot be matched to a connection must
	// not leak state; reply with a stateless reset. The same applies to
	// packets racing a close until the reaper drops the entry.
	if (c == nil && !wire.IsLongHeader(h.Flags)) || (c != nil && c.isClosed()) {
		s.sendReset(h.DCID, d.addr)
		freeDatagram(d)
		return
	}

	if c == nil {
		c = s.newConn(&h, d.addr)
		if c == nil {
			// Dropped silently; the peer retransmits.
			freeDatagram(d)
			return
		}
	}
	c.worker.events <- pollEvent{conn: c, dgram: d}
}

// newConn allocates, registers and announces a connection for an unmatched
// long-header packet. Returns nil when the datagram should be dropped.
func (s *Demux) newConn(h *wire.Header, addr net.Addr) *Conn {
	w := s.workers[int(atomic.AddUint32(&s.nextWorker, 1))%len(s.workers)]
	c := &Conn{
		peerCID:    append([]byte(nil), h.SCID...),
		origDCID:   append([]byte(nil), h.DCID...),
		addr:       addr,
		socket:     s.socket,
		worker:     w,
		inbound:    true,
		submitTime: time.Now(),
		ops:        s,
	}
	// Clients are told our CID length via the handshake; until then their
	// Initials keep using their own DCID, so adopt it as the local CID when
	// it already has the right length. Anything else gets a fresh random ID.
	if len(h.DCID) == s.config.CIDLength {
		c.cid = c.origDCID
	} else {
		c.cid = make([]byte, s.config.CIDLength)
		if _, err := rand.Read(c.cid); err != nil {
			c.logger().WithField("err", err).Error("generate connection id")
			return nil
		}
	}
	if err := s.table.insert(c); err != nil {
		// Local CIDs come from a 160-bit space; a collision means broken
		// randomness, not peer behavior.
		panic("qmux: " + err.Error())
	}
	if err := s.handler.Created(c); err != nil {
		s.table.remove(c)
		c.logger().WithField("err", err).Error("create connection")
		return nil
	}
	c.logger().WithFields(log.Fields{
		"odcid": fmt.Sprintf("%x", c.origDCID),
		"scid":  fmt.Sprintf("%x", c.peerCID),
	}).Debug("new connection")
	return c
}

// Send serializes p into a pooled PMTU-sized buffer and enqueues it for
// transmission. It does not wait for completion; the buffer is owned by the
// transmit loop after submission.
func (s *Demux) Send(p Packet, c *Conn) error {
	d := newDatagram()
	if p.EncodedLen() > defaultPMTU {
		freeDatagram(d)
		return errors.New("packet exceeds path MTU")
	}
	n, err := p.Encode(d.buf[:defaultPMTU])
	if err != nil {
		freeDatagram(d)
		return err
	}
	d.data = d.buf[:n]
	d.addr = c.addr
	s.submit(d)
	return nil
}

// Attach registers a locally initiated connection so inbound packets for
// its CID reach the returned Conn. peerCID is the CID the remote server is
// addressed by until it issues its own.
func (s *Demux) Attach(peerCID []byte, addr net.Addr) (*Conn, error) {
	w := s.workers[int(atomic.AddUint32(&s.nextWorker, 1))%len(s.workers)]
	c := &Conn{
		peerCID:    append([]byte(nil), peerCID...),
		addr:       addr,
		socket:     s.socket,
		worker:     w,
		submitTime: time.Now(),
		ops:        s,
	}
	c.cid = make([]byte, s.config.CIDLength)
	if _, err := rand.Read(c.cid); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := s.table.insert(c); err != nil {
		return nil, err
	}
	return c, nil
}

// sendReset emits one stateless reset datagram for dcid to addr.
func (s *Demux) sendReset(dcid []byte, addr net.Addr) {
	d := newDatagram()
	n, err := wire.StatelessReset(d.buf[:defaultPMTU], dcid, s.serverID)
	if err != nil {
		freeDatagram(d)
		log.WithFields(log.Fields{"addr": addr, "err": err}).Error("stateless reset")
		return
	}
	d.data = d.buf[:n]
	d.addr = addr
	log.WithFields(log.Fields{"addr": addr, "dcid": fmt.Sprintf("%x", dcid)}).Debug("stateless reset")
	s.submit(d)
}

func (s *Demux) submit(d *datagram) {
	select {
	case s.txCh <- d:
	case <-s.die:
		freeDatagram(d)
	}
}

// markClosed flips the closed flag; only the winner of the swap enqueues the
// connection, so each one is reaped at most once.
func (s *Demux) markClosed(c *Conn) {
	if atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		s.closedCh <- c
	}
}

// reapLoop drains the closed queue every 100 ms. It is the only receiver.
func (s *Demux) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reap()
		case <-s.die:
			return
		}
	}
}

func (s *Demux) reap() {
	for {
		select {
		case c := <-s.closedCh:
			s.table.remove(c)
			s.handler.Closed(c)
			c.logger().Debug("connection reaped")
		default:
			return
		}
	}
}
