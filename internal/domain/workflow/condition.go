package workflow

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// Evaluator evaluates edge predicates against a payment request context
type Evaluator interface {
	// Compile checks that an expression is well formed
	Compile(expression string) error

	// Evaluate runs the expression; it must produce a boolean
	Evaluate(expression string, env map[string]interface{}) (bool, error)
}

// ExprEvaluator is an Evaluator backed by expr-lang/expr with a program cache
type ExprEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{cache: make(map[string]*vm.Program)}
}

// Compile compiles and caches the expression
func (e *ExprEvaluator) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs the expression against env
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (bool, error) {
	program, err := e.program(expression)
	if err != nil {
		return false, err
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", expression, err)
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean, got %T", expression, out)
	}
	return result, nil
}

func (e *ExprEvaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok = e.cache[expression]; ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	e.cache[expression] = program
	return program, nil
}

// EvaluationEnv builds the predicate environment for a payment request
func EvaluationEnv(req *entity.PaymentRequest, inst *entity.WorkflowInstance) map[string]interface{} {
	env := map[string]interface{}{
		"amount":               0.0,
		"currency":             "",
		"orgId":                "",
		"requestedBy":          "",
		"status":               "",
		"currentApprovalLevel": 0,
		"metadata":             map[string]interface{}{},
	}
	if req != nil {
		env["amount"] = req.Amount
		env["currency"] = req.Currency
		env["orgId"] = req.OrgID
		env["requestedBy"] = req.RequestedBy
		env["status"] = req.Status
		env["currentApprovalLevel"] = req.CurrentApprovalLevel
		if req.Metadata != nil {
			env["metadata"] = req.Metadata
		}
	}
	if inst != nil {
		env["currentApprovalLevel"] = inst.CurrentApprovalLevel
	}
	return env
}
