package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/payment-approval/internal/domain/entity"
)

func TestExprEvaluator_Evaluate(t *testing.T) {
	ev := NewExprEvaluator()
	env := EvaluationEnv(&entity.PaymentRequest{
		ID:       "pr-1",
		OrgID:    "org-1",
		Amount:   2500,
		Currency: "INR",
		Metadata: map[string]interface{}{"vendor": "acme"},
	}, nil)

	tests := []struct {
		expression string
		expected   bool
	}{
		{"amount > 1000", true},
		{"amount <= 1000", false},
		{`currency == "INR" && amount >= 2500`, true},
		{`metadata.vendor == "acme"`, true},
		{`orgId == "org-2"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			got, err := ev.Evaluate(tt.expression, env)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestExprEvaluator_CompileErrors(t *testing.T) {
	ev := NewExprEvaluator()

	assert.Error(t, ev.Compile("amount >"))
	assert.Error(t, ev.Compile(`"not a bool"`))
	assert.NoError(t, ev.Compile("amount > 10"))
}

func TestEvaluationEnv_InstanceLevelOverrides(t *testing.T) {
	env := EvaluationEnv(&entity.PaymentRequest{CurrentApprovalLevel: 1},
		&entity.WorkflowInstance{CurrentApprovalLevel: 3})
	assert.Equal(t, 3, env["currentApprovalLevel"])

	empty := EvaluationEnv(nil, nil)
	assert.Equal(t, 0.0, empty["amount"])
}
