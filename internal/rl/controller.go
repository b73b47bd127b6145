// Package rl implements the tabular Q-learning controller that resizes
// the worker pool's desired concurrency each monitoring interval.
// Grounded directly on _examples/original_source/rl_manager.py's
// RLConnectionManager: state discretization, the five-action space, the
// epsilon-greedy/oscillation-suppression selection rule, the safety
// clamp, and the Q-update/persistence shape all carry over into
// explicit Go types instead of Python dicts. Per design note (spec.md
// §9), the controller is always explicitly constructed — never a
// package-level singleton.
package rl

import (
	"math/rand"
	"sync"
	"time"

	"github.com/Sijosaju/multistream-downloader/internal/config"
)

// Sample is the controller's view of one monitoring-interval
// measurement, decoupled from the metrics package so rl has no import
// dependency on it.
type Sample struct {
	ThroughputMbps float64
	RTTMillis      float64
	LossPercent    float64
}

// Transition is one recorded (s, a, r, s') step, appended to a bounded
// history for diagnostics.
type Transition struct {
	State       State
	Action      Action
	Reward      float64
	NextState   State
	Connections int
	At          time.Time
}

const (
	maxSampleHistory     = 50
	maxTransitionHistory = 50
	actionWindow         = 5
	observedFewTimes     = 3
	maxExplorationDouble = 0.5
)

// Controller owns one Q-table and the decision loop that updates it.
// Safe for concurrent use: every exported method takes mu, so several
// coordinators sharing one process-wide controller (internal/api.Manager)
// can each drive their own adaptive job against it.
type Controller struct {
	Q *QTable

	// mu guards every exported method below. The Q-table is a
	// process-wide singleton (spec.md §3); when the HTTP surface
	// drives more than one adaptive job at once, their decision loops
	// share this one controller instance.
	mu sync.Mutex

	epsilon float64
	epsMin  float64
	decay   float64
	alpha   float64
	gamma   float64

	currentConnections int
	lastDecisionAt     time.Time
	haveDecided        bool

	havePrev    bool
	prevState   State
	prevAction  Action
	prevSample  Sample

	stateObserved map[State]int
	actionHistory []Action
	sampleHistory []Sample
	transitions   []Transition

	updatesSinceSave int
	rng              *rand.Rand
}

// NewController constructs a controller with an empty Q-table and the
// spec-mandated defaults. initialConnections is the pool size in effect
// before the first decision.
func NewController(initialConnections int) *Controller {
	return newController(NewQTable(), initialConnections)
}

// NewControllerFromTable constructs a controller around a table loaded
// from disk (or any other source), preserving its exploration rate.
func NewControllerFromTable(q *QTable, initialConnections int) *Controller {
	return newController(q, initialConnections)
}

func newController(q *QTable, initialConnections int) *Controller {
	eps := config.InitialExploration
	if q.ExplorationRate > 0 {
		eps = q.ExplorationRate
	}
	// Testable property 3 (spec.md §3/§8): never start below ε_min,
	// regardless of how the table was constructed.
	if eps < config.MinExploration {
		eps = config.MinExploration
	}
	q.ExplorationRate = eps
	return &Controller{
		Q:                  q,
		epsilon:            eps,
		epsMin:             config.MinExploration,
		decay:              config.ExplorationDecay,
		alpha:              config.LearningRate,
		gamma:              config.DiscountFactor,
		currentConnections: initialConnections,
		stateObserved:      make(map[State]int),
		rng:                rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ExplorationRate returns the controller's current epsilon.
func (c *Controller) ExplorationRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epsilon
}

// Connections returns the desired concurrency currently in effect.
func (c *Controller) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentConnections
}

// ShouldDecide reports whether enough wall-clock time has elapsed since
// the last decision for MakeDecision to act (testable property 4,
// spec.md §8).
func (c *Controller) ShouldDecide(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldDecideLocked(now)
}

func (c *Controller) shouldDecideLocked(now time.Time) bool {
	if !c.haveDecided {
		return true
	}
	return now.Sub(c.lastDecisionAt) >= time.Duration(config.MonitoringInterval)*time.Second
}

// MakeDecision runs one controller cycle (spec.md §4.5): update from the
// previous action's outcome, pick a new action, apply safety
// constraints, and resize. It is a no-op — returning the previous
// connection count unchanged — when called before MI has elapsed.
func (c *Controller) MakeDecision(now time.Time, sample Sample) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.shouldDecideLocked(now) {
		return c.currentConnections
	}
	c.lastDecisionAt = now
	c.haveDecided = true

	c.recordSample(sample)
	state := Discretize(sample.ThroughputMbps, sample.RTTMillis, sample.LossPercent)

	if c.havePrev {
		prevUtility := Utility(c.prevSample.ThroughputMbps, c.prevSample.LossPercent, c.currentConnections)
		currUtility := Utility(sample.ThroughputMbps, sample.LossPercent, c.currentConnections)
		reward := Reward(prevUtility, currUtility, c.currentConnections)

		c.updateQ(c.prevState, c.prevAction, reward, state)

		c.transitions = append(c.transitions, Transition{
			State:       c.prevState,
			Action:      c.prevAction,
			Reward:      reward,
			NextState:   state,
			Connections: c.currentConnections,
			At:          now,
		})
		if len(c.transitions) > maxTransitionHistory {
			c.transitions = c.transitions[1:]
		}
	}

	action := c.chooseAction(state)
	c.decayEpsilon()

	c.currentConnections = c.applyConstraints(action, c.currentConnections)

	c.prevState = state
	c.prevAction = action
	c.prevSample = sample
	c.havePrev = true

	c.Q.Decisions++
	return c.currentConnections
}

func (c *Controller) recordSample(s Sample) {
	c.sampleHistory = append(c.sampleHistory, s)
	if len(c.sampleHistory) > maxSampleHistory {
		c.sampleHistory = c.sampleHistory[1:]
	}
}

func (c *Controller) updateQ(s State, a Action, reward float64, next State) {
	alpha := c.alpha
	if reward > 1 || reward < -1 {
		alpha = 2 * c.alpha
	}
	current := c.Q.Get(s, a)
	target := reward + c.gamma*c.Q.Max(next)
	c.Q.Set(s, a, current+alpha*(target-current))

	c.Q.Updates++
	c.updatesSinceSave++
	if c.updatesSinceSave >= config.SaveInterval {
		c.updatesSinceSave = 0
	}
}

// ReadyToPersist reports whether the updates-since-save counter reads
// zero while the table holds updates: true once SAVE_INTERVAL updates
// have wrapped the counter (spec.md §4.5 step 5), and also after a Save
// or a load of a non-empty table until the next update. The coordinator
// then calls Save, which resets the counter.
func (c *Controller) ReadyToPersist() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatesSinceSave == 0 && c.Q.Updates > 0
}

func (c *Controller) decayEpsilon() {
	c.epsilon = maxF(c.epsMin, c.epsilon*c.decay)
	c.Q.ExplorationRate = c.epsilon
}

func (c *Controller) chooseAction(s State) Action {
	observed := c.stateObserved[s]
	c.stateObserved[s] = observed + 1

	eps := c.epsilon
	if observed < observedFewTimes {
		eps = minF(maxExplorationDouble, eps*2)
	}

	var action Action
	if c.rng.Float64() < eps {
		action = Actions[c.rng.Intn(len(Actions))]
	} else {
		ties := c.Q.Argmax(s)
		if len(ties) == 1 {
			action = ties[0]
		} else if c.isOscillating() && containsAction(ties, ActionHold) {
			action = ActionHold
		} else {
			action = ties[c.rng.Intn(len(ties))]
		}
	}

	c.actionHistory = append(c.actionHistory, action)
	if len(c.actionHistory) > actionWindow {
		c.actionHistory = c.actionHistory[1:]
	}
	return action
}

// isOscillating detects whether the last four actions alternate between
// increases and decreases (spec.md §4.5, scenario S5).
func (c *Controller) isOscillating() bool {
	if len(c.actionHistory) < 4 {
		return false
	}
	last4 := c.actionHistory[len(c.actionHistory)-4:]
	signs := make([]int, 4)
	for i, a := range last4 {
		d := a.Delta()
		switch {
		case d > 0:
			signs[i] = 1
		case d < 0:
			signs[i] = -1
		default:
			return false // a hold in the window breaks the oscillation pattern
		}
	}
	for i := 0; i < 3; i++ {
		if signs[i] != -signs[i+1] {
			return false
		}
	}
	return true
}

// applyConstraints implements spec.md §4.5's safety clamp: the optimal
// band override under good conditions, the positive-delta cap under
// poor conditions, and the universal [MinStreams, MaxStreams] bound.
func (c *Controller) applyConstraints(action Action, current int) int {
	delta := action.Delta()

	avgT, avgRTT, avgLoss := c.recentAverages(3)

	if avgLoss > 2.0 || avgRTT > 200 {
		if delta > 1 {
			delta = 1
		}
	}

	next := current + delta
	if avgT > 30 && avgLoss < 0.5 && avgRTT < 100 {
		next = clampInt(next, 6, 12)
	}

	return clampInt(next, config.MinStreams, config.MaxStreams)
}

func (c *Controller) recentAverages(n int) (throughput, rtt, loss float64) {
	hist := c.sampleHistory
	if len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	if len(hist) == 0 {
		return 0, 0, 0
	}
	for _, s := range hist {
		throughput += s.ThroughputMbps
		rtt += s.RTTMillis
		loss += s.LossPercent
	}
	count := float64(len(hist))
	return throughput / count, rtt / count, loss / count
}

// Stats is a consistent snapshot for the /api/rl/stats endpoint and the
// rl CLI command group.
type Stats struct {
	Decisions       int
	Updates         int
	ExplorationRate float64
	States          int
	Connections     int
}

func (c *Controller) StatsSnapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Decisions:       c.Q.Decisions,
		Updates:         c.Q.Updates,
		ExplorationRate: c.epsilon,
		States:          c.Q.StateCount(),
		Connections:     c.currentConnections,
	}
}

// Reset clears the Q-table and the controller's learned history,
// restoring initial exploration.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Q.Reset()
	c.epsilon = config.InitialExploration
	c.Q.ExplorationRate = c.epsilon
	c.havePrev = false
	c.haveDecided = false
	c.stateObserved = make(map[State]int)
	c.actionHistory = nil
	c.sampleHistory = nil
	c.transitions = nil
	c.updatesSinceSave = 0
}

func containsAction(actions []Action, target Action) bool {
	for _, a := range actions {
		if a == target {
			return true
		}
	}
	return false
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
