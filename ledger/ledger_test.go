package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type speedLog struct {
	Segment string
	Speed   int64
}

func (speedLog) Type() string { return "speed_log" }

type note struct {
	Text string
}

func (*note) Type() string { return "note" }

func fill(t *testing.T, l *Ledger, n int) {
	for i := 0; i < n; i++ {
		_, err := l.Append(speedLog{Segment: "E", Speed: int64(i)})
		require.NoError(t, err)
	}
}

func TestLedger_Genesis(t *testing.T) {
	l := New()
	require.Equal(t, 1, l.Len())
	g := l.Head()
	require.Equal(t, 0, g.Index)
	require.Equal(t, TypeGenesis, g.Type())
	require.True(t, g.PreviousHash.Equal(genesisPrevious))
	require.Equal(t, g, l.Tail())
	require.True(t, l.Validate())
	require.Equal(t, 0, l.SizeBytes())
}

func TestLedger_Append(t *testing.T) {
	l := New()
	fill(t, l, 10)
	require.Equal(t, 11, l.Len())

	blocks := l.Blocks()
	for n := 1; n < len(blocks); n++ {
		require.Equal(t, n, blocks[n].Index)
		require.True(t, blocks[n].PreviousHash.Equal(blocks[n-1].Hash))
		require.True(t, blocks[n].Timestamp.After(blocks[n-1].Timestamp))
		h, err := blocks[n].CalculateHash()
		require.NoError(t, err)
		require.True(t, h.Equal(blocks[n].Hash))
	}
	require.True(t, l.Validate())
	require.True(t, l.Validate())
	require.True(t, l.SizeBytes() > 0)

	_, err := l.Append(nil)
	require.Error(t, err)
	require.Equal(t, 11, l.Len())
}

func TestLedger_TimestampTies(t *testing.T) {
	l := New()
	frozen := time.Now()
	l.now = func() time.Time { return frozen }
	fill(t, l, 3)
	blocks := l.Blocks()
	for n := 2; n < len(blocks); n++ {
		require.True(t, blocks[n].Timestamp.After(blocks[n-1].Timestamp))
	}
	require.True(t, l.Validate())
}

func TestLedger_Get(t *testing.T) {
	l := New()
	fill(t, l, 3)
	b, err := l.Get(2)
	require.NoError(t, err)
	require.Equal(t, int64(1), b.Payload.(speedLog).Speed)
	_, err = l.Get(4)
	require.Error(t, err)
	_, err = l.Get(-1)
	require.Error(t, err)
}

func TestLedger_Walk(t *testing.T) {
	l := New()
	fill(t, l, 5)

	var forward []int
	l.Forward(func(b *Block) bool {
		forward = append(forward, b.Index)
		return true
	})
	require.Equal(t, []int{0, 1, 2, 3, 4, 5}, forward)

	var backward []int
	l.Backward(func(b *Block) bool {
		backward = append(backward, b.Index)
		return b.Index > 3
	})
	require.Equal(t, []int{5, 4, 3}, backward)
}

func TestLedger_AppendIf(t *testing.T) {
	l := New()
	isGenesis := func(tail *Block) bool { return tail.Type() == TypeGenesis }

	b, err := l.AppendIf(isGenesis, &note{"first"})
	require.NoError(t, err)
	require.NotNil(t, b)
	b, err = l.AppendIf(isGenesis, &note{"second"})
	require.NoError(t, err)
	require.Nil(t, b)
	require.Equal(t, 2, l.Len())
}

func TestLedger_Tamper(t *testing.T) {
	l := New()
	fill(t, l, 2)
	n := &note{"original"}
	_, err := l.Append(n)
	require.NoError(t, err)
	fill(t, l, 2)
	require.True(t, l.Validate())

	n.Text = "altered"
	require.False(t, l.Validate())
	require.Contains(t, l.Verify().Error(), "block 3")
	n.Text = "original"
	require.True(t, l.Validate())

	b, err := l.Get(2)
	require.NoError(t, err)
	saved := b.PreviousHash
	b.PreviousHash = BlockID("forged")
	require.False(t, l.Validate())
	b.PreviousHash = saved
	require.True(t, l.Validate())
}

func TestLedger_VerifyFrom(t *testing.T) {
	l := New()
	n := &note{"original"}
	_, err := l.Append(n)
	require.NoError(t, err)
	fill(t, l, 3)

	n.Text = "altered"
	require.Error(t, l.VerifyFrom(0))
	require.Error(t, l.VerifyFrom(1))
	// Block 2 still links to the stored hash of block 1.
	require.NoError(t, l.VerifyFrom(2))
	require.NoError(t, l.VerifyFrom(l.Len()))
}

func TestLedger_ConcurrentAppend(t *testing.T) {
	l := New()
	fill(t, l, 3)
	prior := l.Len()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Append(speedLog{Segment: "F", Speed: int64(i)})
			require.NoError(t, err)
			l.Tail()
			l.Backward(func(*Block) bool { return false })
		}(i)
	}
	wg.Wait()
	require.Equal(t, prior+n, l.Len())
	require.True(t, l.Validate())
}

func TestLedger_Register(t *testing.T) {
	l := New()
	const n = 20
	ids := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- l.Register(RoleParticipant).ID
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[int]bool{}
	for id := range ids {
		require.False(t, seen[id])
		seen[id] = true
	}
	require.Len(t, seen, n)
	id := l.Register(RoleFacilitator)
	require.Equal(t, n, id.ID)
	require.Equal(t, "facilitator", id.Role.String())
	require.Equal(t, l, id.Ledger)
}
