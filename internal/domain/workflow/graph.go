package workflow

import (
	"fmt"

	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// ValidateDefinition checks the structural rules every definition must
// satisfy before an instance may run against it. Failures wrap ErrGraphInvalid.
func ValidateDefinition(def *entity.WorkflowDefinition, evaluator Evaluator) error {
	if def == nil {
		return fmt.Errorf("%w: definition is nil", ErrGraphInvalid)
	}

	nodes := make(map[string]entity.Node, len(def.Nodes))
	stepOrders := make(map[int]string)
	var startID string
	endCount := 0

	for _, n := range def.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node without id", ErrGraphInvalid)
		}
		if _, dup := nodes[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrGraphInvalid, n.ID)
		}
		if !n.Type.IsValid() {
			return fmt.Errorf("%w: node %q has unknown type %q", ErrGraphInvalid, n.ID, n.Type)
		}
		if err := validateNodeData(n); err != nil {
			return err
		}
		nodes[n.ID] = n

		switch n.Type {
		case entity.NodeTypeStart:
			if startID != "" {
				return fmt.Errorf("%w: more than one START node", ErrGraphInvalid)
			}
			startID = n.ID
		case entity.NodeTypeEnd:
			endCount++
		case entity.NodeTypeApproval:
			if other, dup := stepOrders[n.Approval.StepOrder]; dup {
				return fmt.Errorf("%w: nodes %q and %q share step order %d", ErrGraphInvalid, other, n.ID, n.Approval.StepOrder)
			}
			stepOrders[n.Approval.StepOrder] = n.ID
		}
	}
	if startID == "" {
		return fmt.Errorf("%w: no START node", ErrGraphInvalid)
	}
	if endCount == 0 {
		return fmt.Errorf("%w: no END node", ErrGraphInvalid)
	}

	out := make(map[string][]entity.Edge)
	in := make(map[string]int)
	seen := make(map[[2]string]bool)
	for _, e := range def.Edges {
		if _, ok := nodes[e.From]; !ok {
			return fmt.Errorf("%w: edge from unknown node %q", ErrGraphInvalid, e.From)
		}
		if _, ok := nodes[e.To]; !ok {
			return fmt.Errorf("%w: edge to unknown node %q", ErrGraphInvalid, e.To)
		}
		if e.From == e.To {
			return fmt.Errorf("%w: self-loop on node %q", ErrGraphInvalid, e.From)
		}
		key := [2]string{e.From, e.To}
		if seen[key] {
			return fmt.Errorf("%w: duplicate edge %q -> %q", ErrGraphInvalid, e.From, e.To)
		}
		seen[key] = true
		out[e.From] = append(out[e.From], e)
		in[e.To]++
	}

	for id, n := range nodes {
		if err := validateDegree(n, in[id], out[id], evaluator); err != nil {
			return err
		}
	}

	order, err := topologicalOrder(startID, nodes, out)
	if err != nil {
		return err
	}
	if len(order) != len(nodes) {
		for id := range nodes {
			if !contains(order, id) {
				return fmt.Errorf("%w: node %q is unreachable from START", ErrGraphInvalid, id)
			}
		}
	}

	return checkStepOrders(order, nodes, out)
}

func validateNodeData(n entity.Node) error {
	if n.Type == entity.NodeTypeApproval {
		if n.Approval == nil {
			return fmt.Errorf("%w: approval node %q has no approver", ErrGraphInvalid, n.ID)
		}
		switch n.Approval.ApproverType {
		case entity.ApproverTypeRole, entity.ApproverTypeUser:
		default:
			return fmt.Errorf("%w: approval node %q has unknown approver type %q", ErrGraphInvalid, n.ID, n.Approval.ApproverType)
		}
		if n.Approval.ApproverValue == "" {
			return fmt.Errorf("%w: approval node %q has empty approver value", ErrGraphInvalid, n.ID)
		}
		if n.Approval.StepOrder < 1 {
			return fmt.Errorf("%w: approval node %q must have a positive step order", ErrGraphInvalid, n.ID)
		}
	} else if n.Approval != nil {
		return fmt.Errorf("%w: node %q of type %s carries approval data", ErrGraphInvalid, n.ID, n.Type)
	}

	if (n.Condition != nil && n.Type != entity.NodeTypeCondition) ||
		(n.Notify != nil && n.Type != entity.NodeTypeNotify) ||
		(n.Payment != nil && n.Type != entity.NodeTypePayment) {
		return fmt.Errorf("%w: node %q carries data for another node type", ErrGraphInvalid, n.ID)
	}
	return nil
}

func validateDegree(n entity.Node, inDegree int, outgoing []entity.Edge, evaluator Evaluator) error {
	switch n.Type {
	case entity.NodeTypeStart:
		if inDegree != 0 {
			return fmt.Errorf("%w: START node %q has incoming edges", ErrGraphInvalid, n.ID)
		}
	case entity.NodeTypeEnd:
		if len(outgoing) != 0 {
			return fmt.Errorf("%w: END node %q has outgoing edges", ErrGraphInvalid, n.ID)
		}
		return nil
	default:
		if inDegree == 0 {
			return fmt.Errorf("%w: %s node %q has no incoming edge", ErrGraphInvalid, n.Type, n.ID)
		}
	}

	if n.Type != entity.NodeTypeCondition {
		if len(outgoing) != 1 {
			return fmt.Errorf("%w: %s node %q must have exactly one outgoing edge, has %d", ErrGraphInvalid, n.Type, n.ID, len(outgoing))
		}
		if outgoing[0].Condition != "" {
			return fmt.Errorf("%w: edge %q -> %q has a predicate but %q is not a CONDITION node", ErrGraphInvalid, n.ID, outgoing[0].To, n.ID)
		}
		return nil
	}

	if len(outgoing) == 0 {
		return fmt.Errorf("%w: CONDITION node %q has no outgoing edge", ErrGraphInvalid, n.ID)
	}
	defaults := 0
	for _, e := range outgoing {
		if e.Condition == "" {
			defaults++
			continue
		}
		if evaluator == nil {
			continue
		}
		if err := evaluator.Compile(e.Condition); err != nil {
			return fmt.Errorf("%w: edge %q -> %q: %v", ErrGraphInvalid, e.From, e.To, err)
		}
	}
	if defaults > 1 {
		return fmt.Errorf("%w: CONDITION node %q has %d default edges", ErrGraphInvalid, n.ID, defaults)
	}
	return nil
}

// topologicalOrder returns the nodes reachable from start in topological
// order, failing on cycles.
func topologicalOrder(startID string, nodes map[string]entity.Node, out map[string][]entity.Edge) ([]string, error) {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(nodes))
	order := make([]string, 0, len(nodes))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("%w: cycle through node %q", ErrGraphInvalid, id)
		case black:
			return nil
		}
		color[id] = grey
		for _, e := range out[id] {
			if err := visit(e.To); err != nil {
				return err
			}
		}
		color[id] = black
		order = append(order, id)
		return nil
	}

	if err := visit(startID); err != nil {
		return nil, err
	}

	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// checkStepOrders verifies that approval step orders strictly increase along
// every path: each approval node must exceed the highest step order that can
// precede it.
func checkStepOrders(order []string, nodes map[string]entity.Node, out map[string][]entity.Edge) error {
	highestBefore := make(map[string]int, len(order))
	for _, id := range order {
		n := nodes[id]
		carried := highestBefore[id]
		if n.Type == entity.NodeTypeApproval {
			if n.Approval.StepOrder <= carried {
				return fmt.Errorf("%w: approval node %q has step order %d but a preceding step has %d",
					ErrGraphInvalid, id, n.Approval.StepOrder, carried)
			}
			carried = n.Approval.StepOrder
		}
		for _, e := range out[id] {
			if carried > highestBefore[e.To] {
				highestBefore[e.To] = carried
			}
		}
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// NextNode resolves the node that follows from. Non-CONDITION nodes follow
// their single outgoing edge. CONDITION nodes take the one edge whose
// predicate holds, or the default edge when none holds; anything else is
// ErrGraphInvalid rather than a guess.
func NextNode(def *entity.WorkflowDefinition, from entity.Node, env map[string]interface{}, evaluator Evaluator) (entity.Node, error) {
	edges := def.Outgoing(from.ID)
	if len(edges) == 0 {
		return entity.Node{}, fmt.Errorf("%w: node %q has no outgoing edge", ErrGraphInvalid, from.ID)
	}

	var target string
	if from.Type != entity.NodeTypeCondition {
		if len(edges) != 1 {
			return entity.Node{}, fmt.Errorf("%w: node %q has %d outgoing edges", ErrGraphInvalid, from.ID, len(edges))
		}
		target = edges[0].To
	} else {
		var matched []string
		var fallback string
		for _, e := range edges {
			if e.Condition == "" {
				fallback = e.To
				continue
			}
			if evaluator == nil {
				return entity.Node{}, fmt.Errorf("%w: no evaluator for predicate on %q -> %q", ErrGraphInvalid, e.From, e.To)
			}
			ok, err := evaluator.Evaluate(e.Condition, env)
			if err != nil {
				return entity.Node{}, fmt.Errorf("%w: %v", ErrGraphInvalid, err)
			}
			if ok {
				matched = append(matched, e.To)
			}
		}
		switch {
		case len(matched) == 1:
			target = matched[0]
		case len(matched) > 1:
			return entity.Node{}, fmt.Errorf("%w: condition %q matched %d branches", ErrGraphInvalid, from.ID, len(matched))
		case fallback != "":
			target = fallback
		default:
			return entity.Node{}, fmt.Errorf("%w: condition %q matched no branch", ErrGraphInvalid, from.ID)
		}
	}

	next, ok := def.FindNode(target)
	if !ok {
		return entity.Node{}, fmt.Errorf("%w: edge from %q targets unknown node %q", ErrGraphInvalid, from.ID, target)
	}
	return next, nil
}
