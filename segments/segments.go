// Package segments maps road segments to the keys used on the ledger. The
// road network itself is loaded elsewhere; a Provider only answers which
// segments belong to a neighborhood.
package segments

import (
	"encoding/hex"
	"sort"
	"sync"

	"go.dedis.ch/trafficledger"
	"golang.org/x/xerrors"
)

// Segment is an opaque road segment identifier, for example an edge of a
// street graph written as "from->to".
type Segment string

// Key is the stable hash of a segment, as written on the ledger.
type Key string

// Provider is the read-only road-segment identity map.
type Provider interface {
	// Segments returns the segments of a neighborhood, sorted.
	Segments(neighborhood string) ([]Segment, error)
	// Key returns the ledger key of a segment.
	Key(s Segment) Key
}

// ErrUnknownNeighborhood is returned by Static for a neighborhood it
// doesn't hold.
var ErrUnknownNeighborhood = xerrors.New("unknown neighborhood")

// HashKey returns the hex encoded sha256 of the segment identifier.
func HashKey(s Segment) Key {
	return Key(hex.EncodeToString(trafficledger.Hash([]byte(s))))
}

// Static is an in-memory Provider.
type Static struct {
	sync.RWMutex
	neighborhoods map[string][]Segment
}

// NewStatic returns an empty provider.
func NewStatic() *Static {
	return &Static{neighborhoods: make(map[string][]Segment)}
}

// Add appends segments to a neighborhood. Duplicates are ignored.
func (s *Static) Add(neighborhood string, segs ...Segment) {
	s.Lock()
	defer s.Unlock()
	known := make(map[Segment]bool)
	for _, seg := range s.neighborhoods[neighborhood] {
		known[seg] = true
	}
	list := s.neighborhoods[neighborhood]
	for _, seg := range segs {
		if !known[seg] {
			known[seg] = true
			list = append(list, seg)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	s.neighborhoods[neighborhood] = list
}

// Segments implements Provider.
func (s *Static) Segments(neighborhood string) ([]Segment, error) {
	s.RLock()
	defer s.RUnlock()
	list, ok := s.neighborhoods[neighborhood]
	if !ok {
		return nil, xerrors.Errorf("%w: %s", ErrUnknownNeighborhood, neighborhood)
	}
	return append([]Segment(nil), list...), nil
}

// Key implements Provider.
func (s *Static) Key(seg Segment) Key {
	return HashKey(seg)
}
