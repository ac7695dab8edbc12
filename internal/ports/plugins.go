// Package ports defines the capability contracts between the controllers in
// the application layer and the plugin implementations in the
// infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"

	"github.com/webis-de/GenIRSim/internal/domain"
)

// Capability names used by the plugin registry and in error messages.
const (
	CapabilityUser      = "user"
	CapabilitySystem    = "system"
	CapabilityEvaluator = "evaluator"
)

// User simulates the human side of a conversation.
// Users are stateful: Start must be called exactly once, before any
// FollowUp, and an instance must never be reused for a second simulation.
// Implementations are not required to be safe for concurrent use.
type User interface {
	// Start produces the first utterance for the given topic.
	Start(ctx context.Context, topic domain.Topic) (*domain.UserTurn, error)

	// FollowUp produces the next utterance after the system answered the
	// previous one.
	FollowUp(ctx context.Context, response *domain.SystemResponse) (*domain.UserTurn, error)
}

// System is the conversational search system under test.
// Systems may keep conversation history between calls and must never be
// reused for a second simulation.
type System interface {
	// Search answers one user turn. The returned response must not be nil
	// and carries the system utterance.
	Search(ctx context.Context, turn *domain.UserTurn) (*domain.SystemResponse, error)
}

// Evaluator scores single turns and complete simulations.
//
// The controller calls Evaluate for turn indices 0..N-1 in ascending order
// and then exactly once with domain.Overall. Evaluators may accumulate state
// across these calls. A nil result without error means the evaluator does
// not apply to that call.
type Evaluator interface {
	Evaluate(ctx context.Context, simulation *domain.Simulation, turnIndex int) (*domain.EvaluationResult, error)
}

// UnimplementedUser can be embedded by partial User implementations.
// Both methods fail with domain.ErrNotImplemented.
type UnimplementedUser struct{}

// Start implements User.
func (UnimplementedUser) Start(context.Context, domain.Topic) (*domain.UserTurn, error) {
	return nil, domain.NewNotImplementedError("User.Start")
}

// FollowUp implements User.
func (UnimplementedUser) FollowUp(context.Context, *domain.SystemResponse) (*domain.UserTurn, error) {
	return nil, domain.NewNotImplementedError("User.FollowUp")
}

// UnimplementedSystem can be embedded by partial System implementations.
type UnimplementedSystem struct{}

// Search implements System and fails with domain.ErrNotImplemented.
func (UnimplementedSystem) Search(context.Context, *domain.UserTurn) (*domain.SystemResponse, error) {
	return nil, domain.NewNotImplementedError("System.Search")
}

// BaseEvaluator can be embedded by evaluators that only handle some calls.
// Its Evaluate reports every call as not applicable.
type BaseEvaluator struct{}

// Evaluate implements Evaluator.
func (BaseEvaluator) Evaluate(context.Context, *domain.Simulation, int) (*domain.EvaluationResult, error) {
	return nil, nil
}

var (
	_ User      = UnimplementedUser{}
	_ System    = UnimplementedSystem{}
	_ Evaluator = BaseEvaluator{}
)
