package credits

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation         string
	UserID            UserID
	Amount            int64
	CreditsAfter      int64
	ExternalReference ExternalReference
	Metadata          MetadataJSON
	Status            string
	Error             error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithEligibilityPolicy overrides the default activity thresholds.
func WithEligibilityPolicy(policy EligibilityPolicy) ServiceOption {
	return func(service *Service) {
		service.policy = policy
	}
}
