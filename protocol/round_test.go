package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/trafficledger/scheme"
	"go.dedis.ch/trafficledger/segments"
)

func TestRound_Schemes(t *testing.T) {
	for _, name := range []string{"elgamal", "bgv", "plain-affine", "plain-additive"} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(name)
			r := newTestRound(t, cfg, 2)
			r.open(t)
			r.submit(t, "E", 10, 20, 30, 40)
			r.submit(t, "G", 60)
			r.close(t)
			r.decrypt(t)

			approved, err := r.aggs[1].ApproveResults()
			require.NoError(t, err)
			require.True(t, approved)
			require.True(t, r.local.Validate())
			require.True(t, r.global.Validate())

			results := r.aggs[1].Results()
			require.Len(t, results, len(testSegments))
			e := statistic(t, results, "E")
			require.Equal(t, int64(4), e.Count)
			requireDecimal(t, 25, e.Mean)
			f := statistic(t, results, "F")
			require.Equal(t, int64(0), f.Count)
			requireDecimal(t, cfg.Sentinel, f.Mean)
			g := statistic(t, results, "G")
			requireDecimal(t, 60, g.Mean)

			if variantOf(t, cfg) == scheme.VariantMultiplicative {
				// (100+400+900+1600)/4 - 25^2
				requireDecimal(t, 125, e.Variance)
				requireDecimal(t, 0, f.Variance)
				requireDecimal(t, 0, g.Variance)
			} else {
				require.Empty(t, e.Variance)
			}

			for _, p := range r.all() {
				require.NoError(t, p.Update())
				require.Equal(t, RequestNotSent, p.State())
				require.Equal(t, results, p.Results())
			}
			verdict, ok := r.global.Tail().Payload.(*Approved)
			require.True(t, ok)
			require.Equal(t, testNeighborhood, verdict.Neighborhood)

			require.NotZero(t, r.fac.Stats().ResultSize)
			require.NotZero(t, r.aggs[0].Stats().AggregateSize)
			require.NotZero(t, r.contributors[0].Stats().LogSize)
		})
	}
}

func TestRound_LargeSentinel(t *testing.T) {
	cfg := testConfig("bgv")
	cfg.Sentinel = 5000
	r := newTestRound(t, cfg, 1)
	r.open(t)
	r.submit(t, "E", 10, 20, 30, 40)
	r.close(t)
	r.decrypt(t)

	approved, err := r.aggs[0].ApproveResults()
	require.NoError(t, err)
	require.True(t, approved)
	results := r.aggs[0].Results()
	f := statistic(t, results, "F")
	requireDecimal(t, 5000, f.Mean)
	requireDecimal(t, 0, f.Variance)
	e := statistic(t, results, "E")
	requireDecimal(t, 25, e.Mean)
	requireDecimal(t, 125, e.Variance)
}

func TestRound_Restart(t *testing.T) {
	r := newTestRound(t, testConfig("plain-affine"), 1)
	r.open(t)
	r.submit(t, "E", 10, 20, 30, 40)
	r.close(t)
	r.decrypt(t)
	approved, err := r.aggs[0].ApproveResults()
	require.NoError(t, err)
	require.True(t, approved)

	// The logs of the first round are outside of the second window.
	r.open(t)
	r.submit(t, "E", 50)
	r.close(t)
	r.decrypt(t)
	approved, err = r.aggs[1].ApproveResults()
	require.NoError(t, err)
	require.True(t, approved)
	e := statistic(t, r.aggs[1].Results(), "E")
	require.Equal(t, int64(1), e.Count)
	requireDecimal(t, 50, e.Mean)
}

func TestRound_Tamper(t *testing.T) {
	for _, name := range []string{"elgamal", "plain-additive"} {
		t.Run(name, func(t *testing.T) {
			r := newTestRound(t, testConfig(name), 1)
			r.open(t)
			r.submit(t, "E", 10, 20, 30, 40)
			r.close(t)

			// Outside of every generation range, so it always differs.
			_, err := r.local.Append(&BlindingParameters{
				Position: First, Slope: 1000, Bias: 1000, Offset: 20001,
			})
			require.NoError(t, err)
			require.NoError(t, r.aggs[0].Update())
			require.Equal(t, SecondParamsSent, r.aggs[0].State())

			r.decrypt(t)
			approved, err := r.aggs[1].ApproveResults()
			require.NoError(t, err)
			require.False(t, approved)
			_, ok := r.local.Tail().Payload.(*Disapproved)
			require.True(t, ok)
			verdict, ok := r.global.Tail().Payload.(*Disapproved)
			require.True(t, ok)
			require.Equal(t, testNeighborhood, verdict.Neighborhood)
			require.Empty(t, r.aggs[1].Results())
			require.Equal(t, RequestNotSent, r.aggs[1].State())
		})
	}
}

func TestRound_OwnParametersAltered(t *testing.T) {
	r := newTestRound(t, testConfig("plain-affine"), 0)
	r.open(t)
	r.submit(t, "E", 10)
	r.close(t)
	_, err := r.local.Append(&BlindingParameters{Position: Second, Slope: 1000, Bias: 1000})
	require.NoError(t, err)
	r.decrypt(t)

	approved, err := r.aggs[1].ApproveResults()
	require.NoError(t, err)
	require.False(t, approved)
	verdict := r.local.Tail().Payload.(*Disapproved)
	require.Contains(t, verdict.Reason, "differ")

	// The verdict is on the ledger, the other aggregator can't add one.
	_, err = r.aggs[0].ApproveResults()
	require.True(t, IsStateError(err))
}

func TestRound_LateLogsIgnored(t *testing.T) {
	cfg := testConfig("plain-affine")
	cfg.UpdateInterval = Duration{100 * time.Millisecond}
	r := newTestRound(t, cfg, 1)
	r.open(t)
	r.submit(t, "E", 10)
	time.Sleep(2 * cfg.UpdateInterval.Duration)

	// A contributor that missed the end of the interval.
	c, err := r.aggs[0].evaluator.Encrypt(1000)
	require.NoError(t, err)
	buf, err := c.MarshalBinary()
	require.NoError(t, err)
	_, err = r.local.Append(&EncryptedLog{
		SegmentKey: string(segments.HashKey("E")),
		Ciphertext: buf,
	})
	require.NoError(t, err)
	require.Error(t, r.contributors[0].SubmitLog("E", 1000))

	r.close(t)
	r.decrypt(t)
	approved, err := r.aggs[0].ApproveResults()
	require.NoError(t, err)
	require.True(t, approved)
	e := statistic(t, r.aggs[0].Results(), "E")
	require.Equal(t, int64(1), e.Count)
	requireDecimal(t, 10, e.Mean)
}

func TestRound_Loops(t *testing.T) {
	r := newTestRound(t, testConfig("elgamal"), 2)
	r.fac.Start()
	defer r.fac.Stop()
	for _, p := range r.all() {
		p.Start()
		defer p.Stop()
	}
	state := func(p *Participant, s ParticipantState) func() bool {
		return func() bool { return p.State() == s }
	}

	require.NoError(t, r.aggs[0].RequestFacilitating())
	for _, p := range r.all() {
		waitFor(t, "answer", state(p, RequestAnswered))
	}
	r.submit(t, "E", 10, 20, 30, 40)

	r.clock.advance(r.cfg.UpdateInterval.Duration + time.Second)
	waitFor(t, "end of interval", state(r.aggs[0], CalcTimeReached))
	require.NoError(t, r.aggs[0].ComputeAndSubmitAggregate())
	waitFor(t, "first aggregate", state(r.aggs[1], FirstAggregated))
	require.NoError(t, r.aggs[1].ComputeAndSubmitAggregate())
	waitFor(t, "second aggregate", state(r.aggs[0], SecondAggregated))
	require.NoError(t, r.aggs[0].SendBlindingParameters())
	require.NoError(t, r.aggs[1].SendBlindingParameters())
	waitFor(t, "parameters", state(r.aggs[0], SecondParamsSent))
	require.NoError(t, r.aggs[0].RequestDecryption())
	waitFor(t, "decryption", state(r.aggs[0], ResultReceived))

	approved, err := r.aggs[0].ApproveResults()
	require.NoError(t, err)
	require.True(t, approved)
	for _, p := range r.all() {
		waitFor(t, "verdict", state(p, RequestNotSent))
		require.NoError(t, p.Err())
	}
	require.Equal(t, Idle, r.fac.State())
	require.NoError(t, r.fac.Err())
	requireDecimal(t, 25, statistic(t, r.contributors[1].Results(), "E").Mean)
}
