package ledger

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Role is the role a node plays on a ledger.
type Role int

const (
	// RoleFacilitator holds the decryption capability.
	RoleFacilitator Role = iota
	// RoleParticipant is a member of a neighborhood.
	RoleParticipant
)

func (r Role) String() string {
	switch r {
	case RoleFacilitator:
		return "facilitator"
	case RoleParticipant:
		return "participant"
	}
	return "unknown"
}

// Identity is what a node gets when registering on a ledger. The ledger is
// not owned by the node.
type Identity struct {
	ID     int
	Role   Role
	Ledger *Ledger
}

// Ledger is an append-only chain of blocks, shared by reference between all
// the nodes of one protocol scope. Appends are serialized; readers always
// see a complete chain, either before or after a pending append.
type Ledger struct {
	sync.RWMutex
	blocks []*Block
	nodes  int64
	now    func() time.Time
}

// New returns a ledger holding only the genesis block.
func New() *Ledger {
	l := &Ledger{now: time.Now}
	genesis, err := newBlock(0, genesisPrevious, l.now(), Genesis{})
	if err != nil {
		log.Panic("couldn't create genesis block:", err)
	}
	l.blocks = []*Block{genesis}
	return l
}

// NextID returns a new node id. Ids are never reused.
func (l *Ledger) NextID() int {
	return int(atomic.AddInt64(&l.nodes, 1) - 1)
}

// Register returns a new identity for a node of the given role.
func (l *Ledger) Register(role Role) Identity {
	return Identity{ID: l.NextID(), Role: role, Ledger: l}
}

// Append chains a new block holding p to the tail and returns it.
func (l *Ledger) Append(p Payload) (*Block, error) {
	l.Lock()
	defer l.Unlock()
	return l.appendLocked(p)
}

// AppendIf appends p only if cond returns true for the current tail. The
// check and the append happen under the same lock. It returns nil if the
// condition was false.
func (l *Ledger) AppendIf(cond func(tail *Block) bool, p Payload) (*Block, error) {
	l.Lock()
	defer l.Unlock()
	if !cond(l.blocks[len(l.blocks)-1]) {
		return nil, nil
	}
	return l.appendLocked(p)
}

func (l *Ledger) appendLocked(p Payload) (*Block, error) {
	tail := l.blocks[len(l.blocks)-1]
	ts := l.now()
	if !ts.After(tail.Timestamp) {
		ts = tail.Timestamp.Add(time.Nanosecond)
	}
	b, err := newBlock(len(l.blocks), tail.Hash, ts, p)
	if err != nil {
		return nil, err
	}
	l.blocks = append(l.blocks, b)
	log.Lvlf4("appended %s", b)
	return b, nil
}

// Tail returns the newest block.
func (l *Ledger) Tail() *Block {
	l.RLock()
	defer l.RUnlock()
	return l.blocks[len(l.blocks)-1]
}

// Head returns the genesis block.
func (l *Ledger) Head() *Block {
	l.RLock()
	defer l.RUnlock()
	return l.blocks[0]
}

// Len returns the number of blocks, genesis included.
func (l *Ledger) Len() int {
	l.RLock()
	defer l.RUnlock()
	return len(l.blocks)
}

// Get returns the block at index i.
func (l *Ledger) Get(i int) (*Block, error) {
	l.RLock()
	defer l.RUnlock()
	if i < 0 || i >= len(l.blocks) {
		return nil, xerrors.Errorf("index %d out of range [0, %d)", i, len(l.blocks))
	}
	return l.blocks[i], nil
}

// snapshot returns the blocks present at the time of the call. Later
// appends don't change it.
func (l *Ledger) snapshot() []*Block {
	l.RLock()
	defer l.RUnlock()
	return l.blocks[:len(l.blocks):len(l.blocks)]
}

// Blocks returns the blocks from oldest to newest.
func (l *Ledger) Blocks() []*Block {
	return append([]*Block(nil), l.snapshot()...)
}

// Forward calls f from the oldest to the newest block until f returns
// false.
func (l *Ledger) Forward(f func(*Block) bool) {
	for _, b := range l.snapshot() {
		if !f(b) {
			return
		}
	}
}

// Backward calls f from the tail back to the genesis block until f returns
// false.
func (l *Ledger) Backward(f func(*Block) bool) {
	blocks := l.snapshot()
	for i := len(blocks) - 1; i >= 0; i-- {
		if !f(blocks[i]) {
			return
		}
	}
}

// Verify recomputes every hash and checks every link. It returns an error
// describing the first mismatch.
func (l *Ledger) Verify() error {
	return l.VerifyFrom(0)
}

// VerifyFrom is like Verify but only checks the blocks starting at index
// from, and their link to the block before. Nodes use it to check what was
// appended since their last tick.
func (l *Ledger) VerifyFrom(from int) error {
	blocks := l.snapshot()
	if from < 0 {
		from = 0
	}
	for i := from; i < len(blocks); i++ {
		b := blocks[i]
		if b.Index != i {
			return xerrors.Errorf("block %d has index %d", i, b.Index)
		}
		h, err := b.CalculateHash()
		if err != nil {
			return xerrors.Errorf("block %d: %v", i, err)
		}
		if !h.Equal(b.Hash) {
			return xerrors.Errorf("block %d: hash mismatch", i)
		}
		if i == 0 {
			if !b.PreviousHash.Equal(genesisPrevious) {
				return xerrors.New("genesis block has wrong previous hash")
			}
			continue
		}
		if !b.PreviousHash.Equal(blocks[i-1].Hash) {
			return xerrors.Errorf("block %d doesn't link to block %d", i, i-1)
		}
	}
	return nil
}

// Validate returns true if the chain is intact.
func (l *Ledger) Validate() bool {
	if err := l.Verify(); err != nil {
		log.Lvl2("ledger validation failed:", err)
		return false
	}
	return true
}

// SizeBytes returns the size of all encoded payloads, genesis excluded.
func (l *Ledger) SizeBytes() int {
	size := 0
	for _, b := range l.snapshot()[1:] {
		size += b.size
	}
	return size
}

func (l *Ledger) String() string {
	return fmt.Sprintf("Ledger with %d blocks", l.Len())
}
