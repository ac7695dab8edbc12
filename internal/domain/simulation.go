// Package domain contains the data model shared by the simulation and
// evaluation controllers and their plugins.
package domain

import (
	"encoding/json"
)

// Overall is the turn index passed to evaluators for the evaluation of a
// complete simulation rather than a single turn.
const Overall = -1

// Message roles understood by chat endpoints.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat conversation sent to a language model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Topic is the information need that drives a simulated conversation.
// Topics are immutable inputs; Fields carries any properties beyond the
// description so templates can reference them.
type Topic struct {
	Description string
	Fields      map[string]any
}

// MarshalJSON encodes the topic as a flat object.
func (t Topic) MarshalJSON() ([]byte, error) {
	return marshalWithFields(t.Fields, map[string]any{"description": t.Description})
}

// UnmarshalJSON decodes a flat topic object.
func (t *Topic) UnmarshalJSON(data []byte) error {
	fields, err := unmarshalWithFields(data, map[string]any{"description": &t.Description})
	if err != nil {
		return err
	}
	t.Fields = fields
	return nil
}

// UserTurn is one utterance of the simulated user together with the system
// response the controller attached to it.
type UserTurn struct {
	// Utterance is what the user says in this turn.
	Utterance string

	// SystemResponse is nil until the system answered this turn.
	SystemResponse *SystemResponse

	// Fields holds additional properties produced by the user plugin.
	Fields map[string]any
}

// MarshalJSON encodes the turn as a flat object.
func (u UserTurn) MarshalJSON() ([]byte, error) {
	known := map[string]any{"utterance": u.Utterance}
	if u.SystemResponse != nil {
		known["systemResponse"] = u.SystemResponse
	}
	return marshalWithFields(u.Fields, known)
}

// UnmarshalJSON decodes a flat turn object.
func (u *UserTurn) UnmarshalJSON(data []byte) error {
	fields, err := unmarshalWithFields(data, map[string]any{
		"utterance":      &u.Utterance,
		"systemResponse": &u.SystemResponse,
	})
	if err != nil {
		return err
	}
	u.Fields = fields
	return nil
}

// SystemResponse is the reply of the system under test to one user turn.
type SystemResponse struct {
	// Utterance is the textual answer shown to the user.
	Utterance string

	// Results lists the retrieved documents, if the system exposes them.
	Results []map[string]any

	// ResultsPage is a rendered view of Results, if the system produces one.
	ResultsPage string

	// Fields holds additional properties produced by the system plugin.
	Fields map[string]any
}

// MarshalJSON encodes the response as a flat object.
func (s SystemResponse) MarshalJSON() ([]byte, error) {
	known := map[string]any{"utterance": s.Utterance}
	if s.Results != nil {
		known["results"] = s.Results
	}
	if s.ResultsPage != "" {
		known["resultsPage"] = s.ResultsPage
	}
	return marshalWithFields(s.Fields, known)
}

// UnmarshalJSON decodes a flat response object.
func (s *SystemResponse) UnmarshalJSON(data []byte) error {
	fields, err := unmarshalWithFields(data, map[string]any{
		"utterance":   &s.Utterance,
		"results":     &s.Results,
		"resultsPage": &s.ResultsPage,
	})
	if err != nil {
		return err
	}
	s.Fields = fields
	return nil
}

// Simulation is the ordered record of one simulated conversation.
// It is built once per run and not modified after it is returned.
type Simulation struct {
	Configuration SimulationConfiguration `json:"configuration"`
	UserTurns     []UserTurn              `json:"userTurns"`
}

// EvaluationResult is the outcome of one evaluator call.
type EvaluationResult struct {
	// Score lies in [0,1]; nil encodes an explicit null score.
	Score *float64

	// Explanation is an optional justification for the score.
	Explanation string

	// Fields holds additional properties produced by the evaluator.
	Fields map[string]any
}

// MarshalJSON encodes the result as a flat object. The score key is always
// present, as null when Score is nil.
func (r EvaluationResult) MarshalJSON() ([]byte, error) {
	known := map[string]any{"score": r.Score}
	if r.Explanation != "" {
		known["explanation"] = r.Explanation
	}
	return marshalWithFields(r.Fields, known)
}

// UnmarshalJSON decodes a flat result object.
func (r *EvaluationResult) UnmarshalJSON(data []byte) error {
	fields, err := unmarshalWithFields(data, map[string]any{
		"score":       &r.Score,
		"explanation": &r.Explanation,
	})
	if err != nil {
		return err
	}
	r.Fields = fields
	return nil
}

// NewEvaluationResult creates a result with the given score.
func NewEvaluationResult(score float64, explanation string) *EvaluationResult {
	return &EvaluationResult{Score: &score, Explanation: explanation}
}

// EvaluationResultFromMap converts a decoded JSON object into a result.
// A non-numeric score is reported as an error.
func EvaluationResultFromMap(m map[string]any) (*EvaluationResult, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var result EvaluationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Evaluation is the result of one run: the simulation plus every non-nil
// evaluator result. The zero value encodes as an empty object and marks a
// failed run.
type Evaluation struct {
	Configuration *EvaluationConfiguration `json:"configuration,omitempty"`
	Simulation    *Simulation              `json:"simulation,omitempty"`

	// UserTurnsEvaluations has one entry per turn that received a system
	// response, keyed by evaluator name.
	UserTurnsEvaluations []map[string]*EvaluationResult `json:"userTurnsEvaluations,omitempty"`

	// OverallEvaluations is keyed by evaluator name.
	OverallEvaluations map[string]*EvaluationResult `json:"overallEvaluations,omitempty"`
}

// IsEmpty reports whether e is the empty result of a failed run.
func (e *Evaluation) IsEmpty() bool {
	return e == nil || (e.Configuration == nil && e.Simulation == nil &&
		e.UserTurnsEvaluations == nil && e.OverallEvaluations == nil)
}
