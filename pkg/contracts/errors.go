package contracts

import "errors"

// Error kinds. The CLI maps these to process exit codes: configuration,
// contract and IO failures exit 1; policy and execution blocks exit 2.
var (
	ErrConfig                = errors.New("configuration error")
	ErrContractViolation     = errors.New("context contract violation")
	ErrProfileNotFound       = errors.New("dialogue profile not found")
	ErrModeNotDefined        = errors.New("runtime mode not defined")
	ErrEnvironmentNotDefined = errors.New("runtime environment not defined")
	ErrPolicyDeny            = errors.New("policy denied")
	ErrApprovalBlocked       = errors.New("approval blocked")
	ErrExecutionBlocked      = errors.New("execution blocked")
	ErrExecutionFailed       = errors.New("execution failed")
	ErrIO                    = errors.New("io error")
)

// ExitCode maps an error to the orchestrator exit code contract:
// 0 success, 1 unexpected/config error, 2 policy gate triggered.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, ErrPolicyDeny),
		errors.Is(err, ErrApprovalBlocked),
		errors.Is(err, ErrExecutionBlocked),
		errors.Is(err, ErrExecutionFailed):
		return 2
	default:
		return 1
	}
}
