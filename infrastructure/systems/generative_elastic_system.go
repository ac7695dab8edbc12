package systems

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/webis-de/GenIRSim/infrastructure/llm"
	"github.com/webis-de/GenIRSim/infrastructure/pluginkit"
	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/ports"
	"github.com/webis-de/GenIRSim/internal/templates"
)

var _ ports.System = (*GenerativeElasticSystem)(nil)

// DefaultSearchSize is the number of hits requested when search.size is
// not configured.
const DefaultSearchSize = 10

const (
	keyUtterance = "utterance"

	actionPreprocessing = "preprocessing"
	actionGeneration    = "generation"
)

// GenerativeElasticSystem is a retrieval-augmented generation system: an
// optional model call preprocesses the user turn, a templated query is sent
// to an Elasticsearch index, and a second model call writes the answer from
// the retrieved results.
type GenerativeElasticSystem struct {
	config   GenerativeElasticConfig
	raw      map[string]any
	client   ports.LLMClient
	http     *http.Client
	logbook  *logbook.Logbook
	messages []domain.Message
}

// GenerativeElasticConfig defines the configuration of a
// GenerativeElasticSystem. Templates can reference every configuration key
// and the variables messages, userTurn, preprocessing, and results.
type GenerativeElasticConfig struct {
	LLM map[string]any `json:"llm" validate:"required"`

	// Preprocessing is an optional model call whose JSON answer becomes
	// {{variables.preprocessing}}.
	Preprocessing *PromptConfig `json:"preprocessing"`

	Search SearchConfig `json:"search"`

	// Generation produces the response; utterance is always required.
	Generation PromptConfig `json:"generation"`
}

// PromptConfig is a prompt template and the keys its JSON answer must have.
type PromptConfig struct {
	Message      string   `json:"message" validate:"required"`
	RequiredKeys []string `json:"requiredKeys"`
}

// SearchConfig addresses the index and holds the query template.
type SearchConfig struct {
	// URL is the index URL ending in a slash, such as
	// "http://localhost:9200/corpus/".
	URL string `json:"url" validate:"required,url"`

	Size int `json:"size" validate:"min=0"`

	// Query is the Elasticsearch query, either as an object whose strings
	// are templates or as a template that renders to JSON text.
	Query any `json:"query" validate:"required"`

	Timeout string `json:"timeout"`
}

// NewGenerativeElasticSystem creates the system from its configuration.
func NewGenerativeElasticSystem(cfg map[string]any, lb *logbook.Logbook) (*GenerativeElasticSystem, error) {
	var config GenerativeElasticConfig
	if err := pluginkit.Decode(cfg, &config); err != nil {
		return nil, err
	}
	if config.Search.Size == 0 {
		config.Search.Size = DefaultSearchSize
	}

	client, err := llm.NewClient(config.LLM, lb)
	if err != nil {
		return nil, err
	}

	return &GenerativeElasticSystem{
		config:  config,
		raw:     cfg,
		client:  client,
		http:    pluginkit.NewHTTPClient(config.Search.Timeout),
		logbook: lb,
	}, nil
}

// Search retrieves results for the turn and generates the answer.
func (s *GenerativeElasticSystem) Search(ctx context.Context, turn *domain.UserTurn) (*domain.SystemResponse, error) {
	s.messages = append(s.messages, llm.UserMessage(turn.Utterance))
	vars := map[string]any{
		"messages": templates.JoinMessages(s.messages),
		"userTurn": turn,
	}

	if pre := s.config.Preprocessing; pre != nil {
		preprocessing, err := s.ask(ctx, pre.Message, vars, actionPreprocessing, pre.RequiredKeys)
		if err != nil {
			return nil, err
		}
		vars["preprocessing"] = preprocessing
	}

	query, err := s.renderQuery(vars)
	if err != nil {
		return nil, err
	}
	results, err := s.retrieve(ctx, query)
	if err != nil {
		return nil, err
	}
	page := ResultsPage(results)
	vars["results"] = page

	requiredKeys := append(append([]string{}, s.config.Generation.RequiredKeys...), keyUtterance)
	generated, err := s.ask(ctx, s.config.Generation.Message, vars, actionGeneration, requiredKeys)
	if err != nil {
		return nil, err
	}

	utterance, ok := generated[keyUtterance].(string)
	if !ok {
		utterance = fmt.Sprint(generated[keyUtterance])
	}
	s.messages = append(s.messages, llm.AssistantMessage(utterance))

	return &domain.SystemResponse{
		Utterance:   utterance,
		Results:     results,
		ResultsPage: page,
		Fields:      pluginkit.Fields(generated, keyUtterance, "results", "resultsPage"),
	}, nil
}

func (s *GenerativeElasticSystem) ask(
	ctx context.Context,
	template string,
	vars map[string]any,
	action string,
	requiredKeys []string,
) (map[string]any, error) {
	prompt, err := templates.RenderString(template, pluginkit.Context(s.raw, vars), false)
	if err != nil {
		return nil, fmt.Errorf("rendering %s prompt: %w", action, err)
	}
	return s.client.JSON(ctx, []domain.Message{llm.UserMessage(prompt)}, action, requiredKeys, -1)
}

// renderQuery renders the query template. A query that renders to text is
// parsed as JSON.
func (s *GenerativeElasticSystem) renderQuery(vars map[string]any) (any, error) {
	rendered, err := templates.Render(s.config.Search.Query, pluginkit.Context(s.raw, vars), false)
	if err != nil {
		return nil, fmt.Errorf("rendering search query: %w", err)
	}

	text, ok := rendered.(string)
	if !ok {
		return rendered, nil
	}
	var query any
	if err := json.Unmarshal([]byte(text), &query); err != nil {
		return nil, fmt.Errorf("search query is not JSON: %w", err)
	}
	return query, nil
}

// retrieve posts {query} to the index and flattens every hit into its
// source document plus key (1-based rank), id, and score.
func (s *GenerativeElasticSystem) retrieve(ctx context.Context, query any) ([]map[string]any, error) {
	s.logbook.Log("retrieve", query)

	endpoint := s.config.Search.URL + "_search?size=" + strconv.Itoa(s.config.Search.Size)
	data, err := pluginkit.PostJSON(ctx, s.http, endpoint, map[string]any{"query": query})
	if err != nil {
		return nil, err
	}

	hits := gjson.GetBytes(data, "hits.hits")
	if !hits.IsArray() {
		return nil, domain.NewTransportError(endpoint, http.StatusOK, "response has no hits.hits array", nil)
	}

	results := make([]map[string]any, 0, len(hits.Array()))
	for i, hit := range hits.Array() {
		result := make(map[string]any)
		if source, ok := hit.Get("_source").Value().(map[string]any); ok {
			for key, value := range source {
				result[key] = value
			}
		}
		result["key"] = i + 1
		result["id"] = hit.Get("_id").Value()
		result["score"] = hit.Get("_score").Value()
		s.logbook.Log(fmt.Sprintf("result[%d]", i), result)
		results = append(results, result)
	}
	return results, nil
}

// ResultsPage renders results as numbered blocks of "key: value" lines
// separated by blank lines.
func ResultsPage(results []map[string]any) string {
	blocks := make([]string, len(results))
	for i, result := range results {
		blocks[i] = "[" + strconv.Itoa(i+1) + "]\n" + templates.JoinProperties(result)
	}
	return strings.Join(blocks, "\n\n")
}
