package evaluators

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/webis-de/GenIRSim/infrastructure/pluginkit"
	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/ports"
)

var _ ports.Evaluator = (*APIBasedEvaluator)(nil)

// APIBasedEvaluator delegates scoring to a remote endpoint. The endpoint
// receives {simulation, userTurnIndex}, with userTurnIndex omitted for the
// overall evaluation, and answers with an evaluation result whose score may
// be null for calls it does not handle.
type APIBasedEvaluator struct {
	config  APIBasedConfig
	http    *http.Client
	logbook *logbook.Logbook
}

// APIBasedConfig defines the configuration of an APIBasedEvaluator.
type APIBasedConfig struct {
	URL     string `json:"url" validate:"required,url"`
	Timeout string `json:"timeout"`
}

type evaluationRequest struct {
	Simulation    *domain.Simulation `json:"simulation"`
	UserTurnIndex *int               `json:"userTurnIndex,omitempty"`
}

// NewAPIBasedEvaluator creates the evaluator from its configuration.
func NewAPIBasedEvaluator(cfg map[string]any, lb *logbook.Logbook) (*APIBasedEvaluator, error) {
	var config APIBasedConfig
	if err := pluginkit.Decode(cfg, &config); err != nil {
		return nil, err
	}
	return &APIBasedEvaluator{
		config:  config,
		http:    pluginkit.NewHTTPClient(config.Timeout),
		logbook: lb,
	}, nil
}

// Evaluate posts the simulation and returns the endpoint's result.
func (e *APIBasedEvaluator) Evaluate(ctx context.Context, simulation *domain.Simulation, turnIndex int) (*domain.EvaluationResult, error) {
	req := evaluationRequest{Simulation: simulation}
	if turnIndex != domain.Overall {
		req.UserTurnIndex = &turnIndex
	}

	e.logbook.Log("evaluation.query", map[string]any{"url": e.config.URL, "userTurnIndex": req.UserTurnIndex})
	object, err := pluginkit.PostForObject(ctx, e.http, e.config.URL, req)
	if err != nil {
		return nil, err
	}

	score, ok := object[keyScore]
	if !ok {
		encoded, _ := json.Marshal(object)
		return nil, domain.NewTransportError(e.config.URL, http.StatusOK, "missing score: "+string(encoded), nil)
	}
	e.logbook.Log("evaluation.result", object)
	if score == nil {
		return nil, nil
	}

	result, err := domain.EvaluationResultFromMap(object)
	if err != nil {
		return nil, domain.NewTransportError(e.config.URL, http.StatusOK, "invalid evaluation result", err)
	}
	return result, nil
}
