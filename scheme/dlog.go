package scheme

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/trafficledger"
)

// babySteps is the size of the baby-step table, shared by all the ElGamal
// schemes of the process.
const babySteps = 1 << 16

var babyTable struct {
	sync.Once
	steps map[string]int64
}

func pointKey(p kyber.Point) string {
	buf, err := p.MarshalBinary()
	if err != nil {
		log.Panic("marshalling point:", err)
	}
	return string(buf)
}

func loadBabySteps() map[string]int64 {
	babyTable.Do(func() {
		log.Lvl3("building discrete log table")
		steps := make(map[string]int64, babySteps)
		B := trafficledger.Suite.Point().Base()
		P := trafficledger.Suite.Point().Null()
		for i := int64(0); i < babySteps; i++ {
			steps[pointKey(P)] = i
			P = P.Add(P, B)
		}
		babyTable.steps = steps
	})
	return babyTable.steps
}

// discreteLog recovers m from m*B for |m| < bound, using baby-step
// giant-step. Results are cached since blinded sentinel values repeat.
type discreteLog struct {
	giantSteps int64
	cache      *lru.Cache
}

func newDiscreteLog(bound int64, cacheSize int) (*discreteLog, error) {
	giant := (bound + babySteps - 1) / babySteps
	if giant < 1 {
		giant = 1
	}
	dl := &discreteLog{giantSteps: giant}
	if cacheSize > 0 {
		c, err := lru.New(cacheSize)
		if err != nil {
			return nil, err
		}
		dl.cache = c
	}
	return dl, nil
}

func (dl *discreteLog) solve(M kyber.Point) (int64, error) {
	key := pointKey(M)
	if dl.cache != nil {
		if m, ok := dl.cache.Get(key); ok {
			return m.(int64), nil
		}
	}
	m, ok := dl.search(M)
	if !ok {
		neg := trafficledger.Suite.Point().Neg(M)
		m, ok = dl.search(neg)
		if !ok {
			return 0, ErrOutOfRange
		}
		m = -m
	}
	if dl.cache != nil {
		dl.cache.Add(key, m)
	}
	return m, nil
}

// search looks for a non-negative m.
func (dl *discreteLog) search(M kyber.Point) (int64, bool) {
	table := loadBabySteps()
	suite := trafficledger.Suite
	giant := suite.Point().Mul(suite.Scalar().SetInt64(-babySteps), nil)
	P := M.Clone()
	for j := int64(0); j < dl.giantSteps; j++ {
		if i, ok := table[pointKey(P)]; ok {
			return j*babySteps + i, true
		}
		P = P.Add(P, giant)
	}
	return 0, false
}
