package rl

// State is the discretized (throughput, rtt, loss) tuple the controller
// keys its Q-table on. It carries no host identity (spec.md Non-goals:
// learning does not generalize per-host, it is process-global).
type State struct {
	Throughput int
	RTT        int
	Loss       int
}

// Action is one of the five connection-delta choices.
type Action int

const (
	ActionPlus2 Action = iota
	ActionPlus1
	ActionHold
	ActionMinus1
	ActionMinus2
)

// Actions is the fixed action space, id 0..4 in order.
var Actions = [5]Action{ActionPlus2, ActionPlus1, ActionHold, ActionMinus1, ActionMinus2}

// Delta returns the connection-count change an action applies.
func (a Action) Delta() int {
	switch a {
	case ActionPlus2:
		return 2
	case ActionPlus1:
		return 1
	case ActionMinus1:
		return -1
	case ActionMinus2:
		return -2
	default:
		return 0
	}
}

// Discretize buckets raw metrics into the state space per spec.md §4.5's
// cut-point table (120 total states: 6 throughput x 4 rtt x 5 loss).
func Discretize(throughputMbps, rttMillis, lossPercent float64) State {
	return State{
		Throughput: throughputLevel(throughputMbps),
		RTT:        rttLevel(rttMillis),
		Loss:       lossLevel(lossPercent),
	}
}

func throughputLevel(mbps float64) int {
	switch {
	case mbps < 10:
		return 0
	case mbps < 20:
		return 1
	case mbps < 30:
		return 2
	case mbps < 40:
		return 3
	case mbps < 50:
		return 4
	default:
		return 5
	}
}

func rttLevel(ms float64) int {
	switch {
	case ms < 30:
		return 0
	case ms < 80:
		return 1
	case ms < 150:
		return 2
	default:
		return 3
	}
}

func lossLevel(pct float64) int {
	switch {
	case pct < 0.1:
		return 0
	case pct < 0.5:
		return 1
	case pct < 1.0:
		return 2
	case pct < 2.0:
		return 3
	default:
		return 4
	}
}
