package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
	"time"

	"go.dedis.ch/protobuf"
	"go.dedis.ch/trafficledger"
	"golang.org/x/xerrors"
)

// BlockID is the hash of a block.
type BlockID []byte

// IsNull returns true if the ID is undefined.
func (id BlockID) IsNull() bool {
	return len(id) == 0
}

// Short returns the first 8 bytes of the ID, hex-encoded.
func (id BlockID) Short() string {
	if len(id) < 8 {
		return fmt.Sprintf("%x", []byte(id))
	}
	return fmt.Sprintf("%x", []byte(id[0:8]))
}

// Equal compares two IDs.
func (id BlockID) Equal(other BlockID) bool {
	return bytes.Equal(id, other)
}

// Payload is the typed content of a block. Implementations must be
// encodable by go.dedis.ch/protobuf: exported fields of basic types, byte
// slices, slices and nested structs. Maps are not allowed, their encoding
// is not deterministic.
type Payload interface {
	Type() string
}

// TypeGenesis tags the first block of every ledger.
const TypeGenesis = "genesis"

// Genesis is the payload of the first block.
type Genesis struct{}

// Type implements Payload.
func (Genesis) Type() string { return TypeGenesis }

// genesisPrevious is the sentinel previous hash of the genesis block.
var genesisPrevious = BlockID(make([]byte, 32))

// Block is one entry of the ledger. Blocks are never modified once they
// are part of a ledger.
type Block struct {
	Index        int
	PreviousHash BlockID
	Timestamp    time.Time
	Payload      Payload
	Hash         BlockID
	// size of the encoded payload
	size int
}

func newBlock(index int, prev BlockID, ts time.Time, p Payload) (*Block, error) {
	if p == nil {
		return nil, xerrors.New("nil payload")
	}
	b := &Block{
		Index:        index,
		PreviousHash: prev,
		Timestamp:    ts,
		Payload:      p,
	}
	buf, err := encodePayload(p)
	if err != nil {
		return nil, err
	}
	b.size = len(buf)
	b.Hash = b.hashWith(buf)
	return b, nil
}

// Type returns the type tag of the payload.
func (b *Block) Type() string {
	return b.Payload.Type()
}

// Size returns the length of the encoded payload.
func (b *Block) Size() int {
	return b.size
}

// CalculateHash recomputes the hash of the block from its fields.
func (b *Block) CalculateHash() (BlockID, error) {
	buf, err := encodePayload(b.Payload)
	if err != nil {
		return nil, err
	}
	return b.hashWith(buf), nil
}

func (b *Block) hashWith(payload []byte) BlockID {
	var index, ts [8]byte
	binary.BigEndian.PutUint64(index[:], uint64(b.Index))
	binary.BigEndian.PutUint64(ts[:], uint64(b.Timestamp.UnixNano()))
	return trafficledger.Hash(index[:], b.PreviousHash, ts[:],
		[]byte(b.Payload.Type()), payload)
}

func (b *Block) String() string {
	return fmt.Sprintf("Block %d (%s) with hash %s and previous hash %s",
		b.Index, b.Type(), b.Hash.Short(), b.PreviousHash.Short())
}

// encodePayload returns the protobuf encoding of the payload. protobuf wants
// a pointer to a struct, so values are copied behind one.
func encodePayload(p Payload) ([]byte, error) {
	v := reflect.ValueOf(p)
	if v.Kind() != reflect.Ptr {
		ptr := reflect.New(v.Type())
		ptr.Elem().Set(v)
		v = ptr
	}
	buf, err := protobuf.Encode(v.Interface())
	if err != nil {
		return nil, xerrors.Errorf("encoding %s payload: %v", p.Type(), err)
	}
	return buf, nil
}
