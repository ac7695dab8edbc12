package users

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/webis-de/GenIRSim/infrastructure/pluginkit"
	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/ports"
)

var _ ports.User = (*Touche25RADUser)(nil)

// Defaults of the Touché 2025 retrieval-augmented debating user simulator.
const (
	Touche25RADDefaultURL   = "https://touche25-rad.webis.de/user-sim/api/chat"
	Touche25RADDefaultModel = "base-user"
)

// Touche25RADUser is a client for the user simulation server of the Touché
// 2025 retrieval-augmented debating task. The server is stateless; the
// user keeps the message history and sends it with every follow-up.
type Touche25RADUser struct {
	config   Touche25RADConfig
	http     *http.Client
	logbook  *logbook.Logbook
	messages []domain.Message
	started  bool
}

// Touche25RADConfig defines the configuration of a Touche25RADUser.
type Touche25RADConfig struct {
	URL     string `json:"url" validate:"omitempty,url"`
	Model   string `json:"model"`
	Timeout string `json:"timeout"`
}

type radRequest struct {
	Model    string           `json:"model"`
	Options  *radOptions      `json:"options,omitempty"`
	Messages []domain.Message `json:"messages,omitempty"`
}

type radOptions struct {
	Claim string `json:"claim"`
}

type radResponse struct {
	Message *domain.Message `json:"message"`
}

// NewTouche25RADUser creates the user. Missing url and model fall back to
// the public server and its base user model.
func NewTouche25RADUser(cfg map[string]any, lb *logbook.Logbook) (*Touche25RADUser, error) {
	if cfg == nil {
		cfg = map[string]any{}
	}
	var config Touche25RADConfig
	if err := pluginkit.Decode(cfg, &config); err != nil {
		return nil, err
	}
	if config.URL == "" {
		config.URL = Touche25RADDefaultURL
	}
	if config.Model == "" {
		config.Model = Touche25RADDefaultModel
	}

	return &Touche25RADUser{
		config:  config,
		http:    pluginkit.NewHTTPClient(config.Timeout),
		logbook: lb,
	}, nil
}

// Start asks the server to open the debate. The topic description is sent
// as the claim when present.
func (u *Touche25RADUser) Start(ctx context.Context, topic domain.Topic) (*domain.UserTurn, error) {
	if u.started {
		return nil, fmt.Errorf("%w: Start called twice", domain.ErrInvalidTurnOrder)
	}
	u.started = true

	req := radRequest{Model: u.config.Model}
	if topic.Description != "" {
		req.Options = &radOptions{Claim: topic.Description}
	}
	return u.ask(ctx, req)
}

// FollowUp sends the history extended by the system utterance. From the
// simulator's perspective the system speaks as the "user" role.
func (u *Touche25RADUser) FollowUp(ctx context.Context, response *domain.SystemResponse) (*domain.UserTurn, error) {
	if !u.started {
		return nil, fmt.Errorf("%w: FollowUp called before Start", domain.ErrInvalidTurnOrder)
	}

	u.messages = append(u.messages, domain.Message{Role: domain.RoleUser, Content: response.Utterance})
	return u.ask(ctx, radRequest{Model: u.config.Model, Messages: u.messages})
}

func (u *Touche25RADUser) ask(ctx context.Context, req radRequest) (*domain.UserTurn, error) {
	u.logbook.Log("user.request", req)

	data, err := pluginkit.PostJSON(ctx, u.http, u.config.URL, req)
	if err != nil {
		return nil, err
	}

	var raw any
	_ = json.Unmarshal(data, &raw)
	u.logbook.Log("user.response", raw)

	var resp radResponse
	if err := json.Unmarshal(data, &resp); err != nil || resp.Message == nil {
		return nil, domain.NewTransportError(u.config.URL, http.StatusOK, "missing message in response: "+string(data), err)
	}

	u.messages = append(u.messages, *resp.Message)
	return &domain.UserTurn{Utterance: resp.Message.Content}, nil
}
