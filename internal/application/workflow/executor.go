package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// RecordingExecutor completes NOTIFY and PAYMENT steps by recording their
// parameters as the step result. Delivery and settlement belong to other
// services that consume the emitted events.
type RecordingExecutor struct{}

// Execute implements port.StepExecutor
func (RecordingExecutor) Execute(ctx context.Context, node entity.Node, req *entity.PaymentRequest, inst *entity.WorkflowInstance) (map[string]interface{}, error) {
	result := map[string]interface{}{
		"node_type": string(node.Type),
	}

	switch node.Type {
	case entity.NodeTypeNotify:
		if node.Notify != nil {
			result["channel"] = node.Notify.Channel
			result["recipients"] = append([]string(nil), node.Notify.Recipients...)
			result["template"] = node.Notify.Template
		}
	case entity.NodeTypePayment:
		if req == nil {
			return nil, fmt.Errorf("payment step %s has no payment request", node.ID)
		}
		result["amount"] = req.Amount
		result["currency"] = req.Currency
		if node.Payment != nil {
			result["method"] = node.Payment.Method
			result["reference"] = node.Payment.Reference
		}
	default:
		return nil, fmt.Errorf("no automatic behaviour for %s node %s", node.Type, node.ID)
	}

	return result, nil
}

var _ port.StepExecutor = RecordingExecutor{}
