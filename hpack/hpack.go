// Package hpack implements HTTP/2 header compression (RFC 7541).
//
// The encoder and the peer's decoder for one direction of a connection each
// hold a Table, which Encode and Decode keep identical; the two directions
// use independent tables. Any error surfaced by Decode
// leaves the table in an unspecified state and the caller must terminate the
// HTTP/2 connection with COMPRESSION_ERROR.
package hpack

import (
	"errors"
	"fmt"
)

const (
	// DefaultTableSize is the initial maximum size of the dynamic table
	// (SETTINGS_HEADER_TABLE_SIZE default).
	DefaultTableSize = 4096

	// entryOverhead is the per-entry size overhead (RFC 7541 §4.1).
	entryOverhead = 32

	// maxStringLength bounds the encoded length of a single string. The
	// protocol allows longer strings; this ceiling guards against resource
	// exhaustion from a single field.
	maxStringLength = 4096
)

var (
	errShortBuffer     = errors.New("ShortBuffer")
	errInvalidIndex    = errors.New("InvalidIndex")
	errIntegerOverflow = errors.New("IntegerOverflow")
	errStringLength    = errors.New("StringLength")
	errInvalidHuffman  = errors.New("InvalidHuffman")
	errTableSizeUpdate = errors.New("TableSizeUpdate")
)

// HeaderField is a name-value pair of a decoded or to-be-encoded header.
type HeaderField struct {
	Name  string
	Value string
}

// Size returns the size of the entry as defined in RFC 7541 §4.1.
func (s HeaderField) Size() int {
	return len(s.Name) + len(s.Value) + entryOverhead
}

func (s HeaderField) String() string {
	return fmt.Sprintf("%s: %s", s.Name, s.Value)
}

// Indexing selects the literal header field representation (RFC 7541 §6.2).
type Indexing int

const (
	// IncrementalIndexing adds the field to the dynamic table after decoding.
	IncrementalIndexing Indexing = iota
	// WithoutIndexing leaves the table untouched.
	WithoutIndexing
	// NeverIndexed leaves the table untouched and instructs intermediaries
	// to do the same on re-encoding.
	NeverIndexed
)
