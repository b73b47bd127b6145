package rl

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscretizeCutPoints(t *testing.T) {
	assert.Equal(t, State{Throughput: 0, RTT: 0, Loss: 0}, Discretize(5, 10, 0.05))
	assert.Equal(t, State{Throughput: 5, RTT: 3, Loss: 4}, Discretize(60, 200, 3))
	assert.Equal(t, State{Throughput: 2, RTT: 1, Loss: 2}, Discretize(25, 50, 0.7))
}

func TestNewStateInitializesAllFiveActionsToZero(t *testing.T) {
	q := NewQTable()
	s := State{1, 1, 1}
	for a := range Actions {
		assert.Equal(t, 0.0, q.Get(s, Action(a)))
	}
}

func TestQValuesClampedToRange(t *testing.T) {
	q := NewQTable()
	s := State{0, 0, 0}
	q.Set(s, ActionPlus2, 999)
	q.Set(s, ActionMinus2, -999)
	assert.Equal(t, 10.0, q.Get(s, ActionPlus2))
	assert.Equal(t, -10.0, q.Get(s, ActionMinus2))
}

func TestRewardSignMatchesUtilityDelta(t *testing.T) {
	prev := Utility(10, 1.0, 8)
	curr := Utility(40, 0.1, 8)
	r := Reward(prev, curr, 8)
	assert.Greater(t, r, 0.0)

	curr2 := Utility(2, 3.0, 8)
	r2 := Reward(prev, curr2, 8)
	assert.Less(t, r2, 0.0)
}

func TestSafetyClampStaysWithinBounds(t *testing.T) {
	c := NewController(8)
	for i := 0; i < 20; i++ {
		conn := c.applyConstraints(ActionPlus2, c.currentConnections)
		assert.GreaterOrEqual(t, conn, 1)
		assert.LessOrEqual(t, conn, 16)
		c.currentConnections = conn
	}
}

func TestSafetyClampForcesOptimalBandUnderGoodConditions(t *testing.T) {
	c := NewController(2)
	c.recordSample(Sample{ThroughputMbps: 40, RTTMillis: 50, LossPercent: 0.1})
	c.recordSample(Sample{ThroughputMbps: 45, RTTMillis: 60, LossPercent: 0.1})
	c.recordSample(Sample{ThroughputMbps: 50, RTTMillis: 70, LossPercent: 0.1})

	conn := c.applyConstraints(ActionMinus2, 20)
	assert.GreaterOrEqual(t, conn, 6)
	assert.LessOrEqual(t, conn, 12)
}

func TestMakeDecisionIsNoOpWithinMI(t *testing.T) {
	c := NewController(4)
	now := time.Now()
	first := c.MakeDecision(now, Sample{ThroughputMbps: 20, RTTMillis: 50, LossPercent: 0.2})
	second := c.MakeDecision(now.Add(time.Second), Sample{ThroughputMbps: 25, RTTMillis: 40, LossPercent: 0.1})
	assert.Equal(t, first, second)
	assert.Equal(t, 1, c.Q.Decisions)
}

func TestMakeDecisionActsAfterMIElapsed(t *testing.T) {
	c := NewController(4)
	now := time.Now()
	c.MakeDecision(now, Sample{ThroughputMbps: 20, RTTMillis: 50, LossPercent: 0.2})
	c.MakeDecision(now.Add(6*time.Second), Sample{ThroughputMbps: 25, RTTMillis: 40, LossPercent: 0.1})
	assert.Equal(t, 2, c.Q.Decisions)
}

func TestOscillationSuppressionBiasesToHold(t *testing.T) {
	c := NewController(8)
	c.epsilon = 0 // exploit only, so the tie-break rule decides
	c.actionHistory = []Action{ActionPlus1, ActionMinus1, ActionPlus1, ActionMinus1}
	assert.True(t, c.isOscillating())

	s := State{2, 1, 1}
	c.Q.Set(s, ActionHold, 5)
	c.Q.Set(s, ActionPlus1, 5)

	action := c.chooseAction(s)
	// with two actions tied and oscillation detected, Hold must win
	if len(c.Q.Argmax(s)) > 1 {
		assert.Equal(t, ActionHold, action)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q_table.json")
	backup := filepath.Join(dir, "q_table_backup.json")

	q := NewQTable()
	q.Set(State{3, 1, 2}, ActionPlus1, 4.5)
	q.Set(State{0, 0, 0}, ActionHold, -1.2)
	q.Decisions = 10
	q.Updates = 7
	q.ExplorationRate = 0.2

	require.NoError(t, q.Save(path, backup))

	loaded, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, 4.5, loaded.Get(State{3, 1, 2}, ActionPlus1))
	assert.Equal(t, -1.2, loaded.Get(State{0, 0, 0}, ActionHold))
	assert.Equal(t, 10, loaded.Decisions)
	assert.Equal(t, 7, loaded.Updates)
	assert.Equal(t, 0.2, loaded.ExplorationRate)

	// second save must produce a backup of the first
	q.Set(State{3, 1, 2}, ActionPlus1, 9)
	require.NoError(t, q.Save(path, backup))
	_, err = os.Stat(backup)
	assert.NoError(t, err)
}

func TestLoadTableCorruptFileIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q_table.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	q, err := LoadTable(path)
	assert.Error(t, err)
	assert.Equal(t, 0, q.StateCount())
}

func TestTupleKeyFormat(t *testing.T) {
	assert.Equal(t, "(3, 1, 2)", tupleKey(State{3, 1, 2}))
	s, ok := parseTupleKey("(3, 1, 2)")
	assert.True(t, ok)
	assert.Equal(t, State{3, 1, 2}, s)

	_, ok = parseTupleKey("garbage")
	assert.False(t, ok)
}
