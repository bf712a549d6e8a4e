package dialogue

import (
	"sort"
)

// GraphRef names a graph inside a source. The snapshot is looked up again on
// every evaluation.
type GraphRef struct {
	Source GraphSource
	ID     string
}

// Walker turns a cursor into the next Decision. It holds configuration only;
// all traversal state is in the Cursor.
type Walker struct {
	// AutoSelectSingleChoice follows a prompt fork directly when exactly one
	// choice is eligible.
	AutoSelectSingleChoice bool
}

// maxWalkSteps bounds one evaluation. Loops that consume random draws are
// legal but must settle well within it.
const maxWalkSteps = 4096

// walkState is what must change between two visits of a node for the walk
// to be making progress.
type walkState struct {
	node  NodeID
	draws uint32
	taken int
}

// Evaluate resolves forks and gates starting at cur.Node until it reaches a
// line (DecisionNextTurn), a prompt (DecisionFork), a closed gate
// (DecisionWait) or the end of the graph (DecisionEnd).
//
// A missing graph or node yields an *IntegrityError, as does a walk that
// returns to a node in the same state without reaching a line.
func (w Walker) Evaluate(ref GraphRef, cur Cursor, p Predicates) (Decision, error) {
	if ref.Source == nil {
		return Decision{}, &IntegrityError{Graph: ref.ID, Reason: "no graph source"}
	}
	g, ok := ref.Source.Graph(ref.ID)
	if !ok || g == nil {
		return Decision{}, &IntegrityError{Graph: ref.ID, Node: cur.Node, Reason: "graph not loaded"}
	}

	var recovered *UnsatisfiableBranch
	var taken []ActivationKey
	count := func(k ActivationKey) int {
		n := cur.Activations[k]
		for _, t := range taken {
			if t == k {
				n++
			}
		}
		return n
	}
	seen := make(map[walkState]bool)

	for steps := 1; ; steps++ {
		if cur.Node == "" {
			return Decision{Kind: DecisionEnd, Cursor: cur, Taken: taken, Recovered: recovered}, nil
		}

		st := walkState{node: cur.Node, draws: cur.Draws, taken: len(taken)}
		if seen[st] {
			return Decision{}, &IntegrityError{Graph: g.ID, Version: g.Version, Node: cur.Node, Reason: "cycle without a line"}
		}
		if steps > maxWalkSteps {
			return Decision{}, &IntegrityError{Graph: g.ID, Version: g.Version, Node: cur.Node, Reason: "walk did not settle"}
		}
		seen[st] = true

		n := g.Node(cur.Node)
		if n == nil {
			return Decision{}, &IntegrityError{Graph: g.ID, Version: g.Version, Node: cur.Node, Reason: "node not found"}
		}

		switch n.Kind {
		case NodeLine:
			if n.Line == nil {
				return Decision{}, &IntegrityError{Graph: g.ID, Version: g.Version, Node: n.ID, Reason: "line node without content"}
			}
			next := cur
			next.Node = n.Next
			next.Signal = ""
			if n.Limit > 0 {
				if count(lineKey(n.ID)) >= n.Limit {
					cur = next
					continue
				}
				taken = append(taken, lineKey(n.ID))
			}
			return Decision{
				Kind:      DecisionNextTurn,
				Turn:      newTurn(n),
				Node:      n.ID,
				Cursor:    next,
				Taken:     taken,
				Recovered: recovered,
			}, nil

		case NodeEnd:
			return Decision{Kind: DecisionEnd, Node: n.ID, Cursor: cur, Taken: taken, Recovered: recovered}, nil

		case NodeGate:
			if gateOpen(n, cur, p) {
				cur.Signal = ""
				cur.Node = n.Next
				continue
			}
			return Decision{Kind: DecisionWait, Signal: n.Signal, Node: n.ID, Cursor: cur, Taken: taken, Recovered: recovered}, nil

		case NodeFork:
			eligible := eligibleEdges(n, p, count)
			if len(eligible) == 0 {
				recovered = &UnsatisfiableBranch{Node: n.ID, Fallback: n.Fallback}
				if n.Fallback == "" {
					end := Cursor{Seed: cur.Seed, Draws: cur.Draws, Activations: cur.Activations}
					return Decision{Kind: DecisionEnd, Node: n.ID, Cursor: end, Taken: taken, Recovered: recovered}, nil
				}
				cur.Node = n.Fallback
				continue
			}

			if n.Mode == ForkPrompt {
				if len(eligible) == 1 && w.AutoSelectSingleChoice {
					taken = eligible[0].take(n.ID, taken)
					cur.Node = eligible[0].To
					continue
				}
				return Decision{
					Kind:      DecisionFork,
					Choices:   promptChoices(eligible),
					Node:      n.ID,
					Cursor:    cur,
					Taken:     taken,
					Recovered: recovered,
				}, nil
			}

			edge, draws := pickEdge(eligible, cur.Seed, cur.Draws)
			taken = edge.take(n.ID, taken)
			cur.Draws = draws
			cur.Node = edge.To

		default:
			return Decision{}, &IntegrityError{Graph: g.ID, Version: g.Version, Node: n.ID, Reason: "unknown node kind " + string(n.Kind)}
		}
	}
}

// gateOpen reports whether a gate lets the cursor through. A gate with
// neither signal nor condition is always open.
func gateOpen(n *Node, cur Cursor, p Predicates) bool {
	if n.Signal == "" && n.When == nil {
		return true
	}
	if n.Signal != "" && cur.Signal == n.Signal {
		return true
	}
	return n.When != nil && n.When.Eval(p)
}

// candidate is an eligible edge with its declaration index.
type candidate struct {
	Edge
	index int
}

func (c candidate) take(from NodeID, taken []ActivationKey) []ActivationKey {
	if c.Limit == 0 {
		return taken
	}
	return append(taken, ActivationKey{Node: from, Edge: c.index})
}

// eligibleEdges returns edges whose condition holds, whose weight is
// positive and whose limit is not used up, in declaration order.
func eligibleEdges(n *Node, p Predicates, count func(ActivationKey) int) []candidate {
	var out []candidate
	for i, e := range n.Edges {
		if e.EffectiveWeight() <= 0 {
			continue
		}
		if e.Limit > 0 && count(ActivationKey{Node: n.ID, Edge: i}) >= e.Limit {
			continue
		}
		if !e.When.Eval(p) {
			continue
		}
		out = append(out, candidate{Edge: e, index: i})
	}
	return out
}

// pickEdge selects the highest priority edge, breaking ties by weighted
// random selection in declaration order. It returns the updated draw count.
func pickEdge(eligible []candidate, seed, draws uint32) (candidate, uint32) {
	top := eligible[0].Priority
	for _, e := range eligible[1:] {
		if e.Priority > top {
			top = e.Priority
		}
	}

	var candidates []candidate
	total := 0.0
	for _, e := range eligible {
		if e.Priority == top {
			candidates = append(candidates, e)
			total += e.EffectiveWeight()
		}
	}

	if len(candidates) == 1 {
		return candidates[0], draws
	}

	r := noiseUnit(draws, seed) * total
	acc := 0.0
	for _, e := range candidates {
		acc += e.EffectiveWeight()
		if r < acc {
			return e, draws + 1
		}
	}
	return candidates[len(candidates)-1], draws + 1
}

func promptChoices(eligible []candidate) []Choice {
	sorted := make([]candidate, len(eligible))
	copy(sorted, eligible)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	choices := make([]Choice, len(sorted))
	for i, e := range sorted {
		choices[i] = Choice{Index: i, To: e.To, Text: e.Text, Priority: e.Priority, edge: e.index, limited: e.Limit > 0}
	}
	return choices
}
