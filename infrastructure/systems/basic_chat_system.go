// Package systems provides the built-in conversational search systems.
package systems

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"

	"github.com/webis-de/GenIRSim/infrastructure/pluginkit"
	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/ports"
)

var _ ports.System = (*BasicChatSystem)(nil)

const (
	keyContent  = "content"
	keyResponse = "response"
)

// BasicChatSystem is a black-box system behind a basic chat API. The API
// consumes an object with a "messages" array of {role, content} and answers
// with an object that has at least a "content" property.
type BasicChatSystem struct {
	config   BasicChatConfig
	http     *http.Client
	logbook  *logbook.Logbook
	messages []domain.Message
}

// BasicChatConfig defines the configuration of a BasicChatSystem.
type BasicChatConfig struct {
	// URL is the chat endpoint.
	URL string `json:"url" validate:"required,url"`

	// Request is sent with every query, extended by the messages.
	Request map[string]any `json:"request"`

	Timeout string `json:"timeout"`
}

// NewBasicChatSystem creates the system from its configuration.
func NewBasicChatSystem(cfg map[string]any, lb *logbook.Logbook) (*BasicChatSystem, error) {
	var config BasicChatConfig
	if err := pluginkit.Decode(cfg, &config); err != nil {
		return nil, err
	}
	return &BasicChatSystem{
		config:  config,
		http:    pluginkit.NewHTTPClient(config.Timeout),
		logbook: lb,
	}, nil
}

// Search sends the conversation so far and returns the endpoint's reply.
// The complete reply is kept as the "response" field.
func (s *BasicChatSystem) Search(ctx context.Context, turn *domain.UserTurn) (*domain.SystemResponse, error) {
	s.messages = append(s.messages, domain.Message{Role: domain.RoleUser, Content: turn.Utterance})

	body := make(map[string]any, len(s.config.Request)+1)
	maps.Copy(body, s.config.Request)
	body["messages"] = slices.Clone(s.messages)

	s.logbook.Log("retrieval.query", map[string]any{"url": s.config.URL, "body": body})
	reply, err := pluginkit.PostForObject(ctx, s.http, s.config.URL, body)
	if err != nil {
		return nil, err
	}

	content, ok := reply[keyContent]
	if !ok {
		encoded, _ := json.Marshal(reply)
		return nil, domain.NewTransportError(s.config.URL, http.StatusOK, "missing response content: "+string(encoded), nil)
	}
	s.logbook.Log("retrieval.result", reply)

	utterance, ok := content.(string)
	if !ok {
		utterance = fmt.Sprint(content)
	}
	s.messages = append(s.messages, domain.Message{Role: domain.RoleAssistant, Content: utterance})

	return &domain.SystemResponse{
		Utterance: utterance,
		Fields:    map[string]any{keyResponse: reply},
	}, nil
}
