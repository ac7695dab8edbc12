// Package testutils provides scripted plugins and a mock language model
// client for tests of the controllers and the runner.
package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/ports"
)

var (
	_ ports.User      = (*ScriptedUser)(nil)
	_ ports.System    = (*ScriptedSystem)(nil)
	_ ports.Evaluator = (*ScriptedEvaluator)(nil)
)

// ErrScripted is the error returned by scripted plugins told to fail.
var ErrScripted = errors.New("scripted failure")

// CallLog records plugin calls in order. It is safe for concurrent use.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

// Record appends one call.
func (l *CallLog) Record(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls.
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// ScriptedUser utters "utterance <n>" for its n-th turn.
type ScriptedUser struct {
	Log *CallLog

	// FailAt makes the call for this turn fail with ErrScripted when
	// Fail is set.
	FailAt int
	Fail   bool

	turns int
}

// Start implements ports.User.
func (u *ScriptedUser) Start(_ context.Context, topic domain.Topic) (*domain.UserTurn, error) {
	u.Log.Record("user.Start(%s)", topic.Description)
	return u.next()
}

// FollowUp implements ports.User.
func (u *ScriptedUser) FollowUp(_ context.Context, response *domain.SystemResponse) (*domain.UserTurn, error) {
	u.Log.Record("user.FollowUp(%s)", response.Utterance)
	return u.next()
}

func (u *ScriptedUser) next() (*domain.UserTurn, error) {
	turn := u.turns
	u.turns++
	if u.Fail && u.FailAt == turn {
		return nil, ErrScripted
	}
	return &domain.UserTurn{Utterance: fmt.Sprintf("utterance %d", turn)}, nil
}

// ScriptedSystem answers "answer to <utterance>". It fails when a turn
// arrives with a system response already attached.
type ScriptedSystem struct {
	Log *CallLog
}

// Search implements ports.System.
func (s *ScriptedSystem) Search(_ context.Context, turn *domain.UserTurn) (*domain.SystemResponse, error) {
	s.Log.Record("system.Search(%s)", turn.Utterance)
	if turn.SystemResponse != nil {
		return nil, fmt.Errorf("turn %q already answered", turn.Utterance)
	}
	return &domain.SystemResponse{Utterance: "answer to " + turn.Utterance}, nil
}

// ScriptedEvaluator records its calls and returns Results(turnIndex).
type ScriptedEvaluator struct {
	Name string
	Log  *CallLog

	// Results returns the result for a call; nil Results returns nil for
	// every call.
	Results func(turnIndex int) (*domain.EvaluationResult, error)
}

// Evaluate implements ports.Evaluator.
func (e *ScriptedEvaluator) Evaluate(_ context.Context, _ *domain.Simulation, turnIndex int) (*domain.EvaluationResult, error) {
	if turnIndex == domain.Overall {
		e.Log.Record("%s.Evaluate(overall)", e.Name)
	} else {
		e.Log.Record("%s.Evaluate(%d)", e.Name, turnIndex)
	}
	if e.Results == nil {
		return nil, nil
	}
	return e.Results(turnIndex)
}

// Score is a Results function that scores every turn with score.
func Score(score float64) func(int) (*domain.EvaluationResult, error) {
	return func(int) (*domain.EvaluationResult, error) {
		return domain.NewEvaluationResult(score, ""), nil
	}
}

// OverallOnly is a Results function that returns nil for every turn and
// score for the overall call.
func OverallOnly(score float64) func(int) (*domain.EvaluationResult, error) {
	return func(turnIndex int) (*domain.EvaluationResult, error) {
		if turnIndex != domain.Overall {
			return nil, nil
		}
		return domain.NewEvaluationResult(score, "overall"), nil
	}
}
