package qmux

import (
	"errors"
	"hash/fnv"
	"sync"
)

// errDuplicateCID should not occur when local CIDs are drawn from a
// sufficiently large random space; hitting it is a bug, not a protocol
// condition.
var errDuplicateCID = errors.New("DuplicateCid")

const tableShardCount = 16

// connTable maps locally issued connection IDs to live connections. To keep
// concurrent lookups from serializing on one lock it is sharded by CID hash;
// a secondary address index serves short-header packets of deployments with
// zero-length CIDs.
type connTable struct {
	shards [tableShardCount]tableShard

	addrMu sync.RWMutex
	addrs  map[string]*Conn
}

type tableShard struct {
	mu   sync.RWMutex
	cids map[string]*Conn
}

func newConnTable(capacity int) *connTable {
	t := &connTable{
		addrs: make(map[string]*Conn),
	}
	if capacity < tableShardCount {
		capacity = tableShardCount
	}
	for i := range t.shards {
		t.shards[i].cids = make(map[string]*Conn, capacity/tableShardCount)
	}
	return t
}

func (t *connTable) shard(cid []byte) *tableShard {
	h := fnv.New32a()
	h.Write(cid)
	return &t.shards[h.Sum32()%tableShardCount]
}

// lookup probes by destination CID; for zero-length CIDs it falls back to
// the remote endpoint of the 5-tuple. Safe for concurrent use.
func (t *connTable) lookup(dcid []byte, addr string) *Conn {
	if len(dcid) > 0 {
		s := t.shard(dcid)
		s.mu.RLock()
		c := s.cids[string(dcid)]
		s.mu.RUnlock()
		return c
	}
	t.addrMu.RLock()
	c := t.addrs[addr]
	t.addrMu.RUnlock()
	return c
}

// insert registers c under its locally issued CID and its remote address.
func (t *connTable) insert(c *Conn) error {
	s := t.shard(c.cid)
	s.mu.Lock()
	if _, ok := s.cids[string(c.cid)]; ok {
		s.mu.Unlock()
		return errDuplicateCID
	}
	s.cids[string(c.cid)] = c
	s.mu.Unlock()

	t.addrMu.Lock()
	t.addrs[c.addr.String()] = c
	t.addrMu.Unlock()
	return nil
}

// remove deletes c from both indexes. Called by the reaper, and by the
// acceptor when the handler rejects a new connection.
func (t *connTable) remove(c *Conn) {
	s := t.shard(c.cid)
	s.mu.Lock()
	delete(s.cids, string(c.cid))
	s.mu.Unlock()

	t.addrMu.Lock()
	if t.addrs[c.addr.String()] == c {
		delete(t.addrs, c.addr.String())
	}
	t.addrMu.Unlock()
}

// len returns the number of live connections.
func (t *connTable) len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		n += len(s.cids)
		s.mu.RUnlock()
	}
	return n
}
