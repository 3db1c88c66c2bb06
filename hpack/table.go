package hpack

const minRingSize = 8

// Table is the indexing table of one direction of a connection: the shared
// static table plus a size-bounded dynamic table. Index 1..61 addresses the
// static table, 62 onwards the dynamic table, newest entry first. A Table
// must not be used concurrently.
//
// Dynamic entries live in a growable ring so that inserting at the newest
// end and evicting at the oldest end are both O(1).
type Table struct {
	ring  []HeaderField
	head  int // oldest entry
	tail  int // next insertion slot
	count int

	size    int
	maxSize int
	limit   int // protocol bound for maxSize, from SETTINGS
}

// NewTable creates a table with the given maximum dynamic table size, which
// also acts as the upper bound for subsequent dynamic table size updates.
func NewTable(maxSize int) *Table {
	return &Table{
		maxSize: maxSize,
		limit:   maxSize,
	}
}

// Len returns the number of dynamic entries.
func (t *Table) Len() int {
	return t.count
}

// Size returns the current size of the dynamic table.
func (t *Table) Size() int {
	return t.size
}

// MaxSize returns the current maximum size of the dynamic table.
func (t *Table) MaxSize() int {
	return t.maxSize
}

// SetMaxSize reduces or raises the maximum size of the dynamic table,
// evicting oldest entries until the new bound holds (RFC 7541 §4.3).
func (t *Table) SetMaxSize(n int) {
	for t.size > n {
		t.evict()
	}
	t.maxSize = n
}

// Add inserts a field at the newest end of the dynamic table, evicting
// oldest entries to make room. An entry larger than the table maximum
// empties the table and is not inserted (RFC 7541 §4.4).
func (t *Table) Add(name, value string) {
	s := len(name) + len(value) + entryOverhead
	if s > t.maxSize {
		for t.count > 0 {
			t.evict()
		}
		return
	}
	for t.size+s > t.maxSize {
		t.evict()
	}
	t.push(HeaderField{Name: name, Value: value})
	t.size += s
}

// Get returns the field at index i of the combined address space:
// 1..61 static, 62..61+Len() dynamic (newest first). Index 0 and indices
// beyond the sum of both tables are errors.
func (t *Table) Get(i int) (HeaderField, error) {
	if i <= 0 {
		return HeaderField{}, errInvalidIndex
	}
	if i <= staticEntryCount {
		return staticTable[i], nil
	}
	i -= staticEntryCount
	if i > t.count {
		return HeaderField{}, errInvalidIndex
	}
	return t.ring[(t.tail-i+len(t.ring))%len(t.ring)], nil
}

func (t *Table) push(f HeaderField) {
	if t.count == len(t.ring) {
		t.grow()
	}
	t.ring[t.tail] = f
	t.tail = (t.tail + 1) % len(t.ring)
	t.count++
}

func (t *Table) evict() {
	if t.count == 0 {
		return
	}
	f := t.ring[t.head]
	t.ring[t.head] = HeaderField{}
	t.head = (t.head + 1) % len(t.ring)
	t.count--
	t.size -= f.Size()
}

func (t *Table) grow() {
	n := 2 * len(t.ring)
	if n < minRingSize {
		n = minRingSize
	}
	ring := make([]HeaderField, n)
	for i := 0; i < t.count; i++ {
		ring[i] = t.ring[(t.head+i)%len(t.ring)]
	}
	t.ring = ring
	t.head = 0
	t.tail = t.count
}
