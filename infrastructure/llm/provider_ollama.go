package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// OllamaDefaultURL is the chat endpoint of a local ollama server.
	OllamaDefaultURL = "http://localhost:11434/api/chat"
	// OllamaDefaultModel is used when the configuration names no model.
	OllamaDefaultModel = "llama3.1"

	maxLineSize = 1 << 20
)

func init() {
	RegisterProviderFactory("ollama", newOllamaProvider)
}

// ollamaProvider streams chat completions from an endpoint that answers with
// newline-delimited JSON objects of the form
// {"message":{"content":"..."},"done":false}. Every configuration option
// other than the client settings is copied into the request body.
type ollamaProvider struct {
	BaseProvider
	url             string
	httpClient      *http.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func newOllamaProvider(config Config) (CoreLLM, error) {
	endpoint := config.URL
	if endpoint == "" {
		endpoint = OllamaDefaultURL
	}
	validated, err := ValidateBaseURL(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	model := config.Model
	if model == "" {
		model = OllamaDefaultModel
	}

	return &ollamaProvider{
		BaseProvider:    BaseProvider{model: model},
		url:             validated,
		httpClient:      &http.Client{Timeout: ValidateTimeout(config.timeout())},
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "ollama"},
	}, nil
}

// DoRequest posts the conversation and concatenates the streamed chunks.
func (p *ollamaProvider) DoRequest(ctx context.Context, req Request) (Response, error) {
	body := make(map[string]any, len(req.Options)+2)
	for k, v := range req.Options {
		body[k] = v
	}
	if _, ok := body["model"]; !ok {
		body["model"] = p.GetModel()
	}
	body["messages"] = req.Messages

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, p.errorClassifier.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Response{}, p.errorClassifier.ClassifyHTTPError(resp.StatusCode, errorMessage(msg), nil)
	}

	return p.readStream(resp.Body, req)
}

func (p *ollamaProvider) readStream(body io.Reader, req Request) (Response, error) {
	var (
		content strings.Builder
		out     Response
		done    bool
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return Response{}, NewProviderError("ollama", ErrorTypeUnknown, 0, "malformed stream line", err)
		}
		if chunk.Error != "" {
			return Response{}, NewProviderError("ollama", ErrorTypeServerError, 0, chunk.Error, nil)
		}
		if chunk.Message.Content != "" {
			req.emit(chunk.Message.Content)
			content.WriteString(chunk.Message.Content)
		}
		if chunk.Done {
			out.TokensIn = chunk.PromptEvalCount
			out.TokensOut = chunk.EvalCount
			done = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, p.errorClassifier.ClassifyTransportError(err)
	}
	// A truncated completion must not reach the JSON repair cascade.
	if !done {
		return Response{}, NewProviderError("ollama", ErrorTypeNetwork, 0, "stream ended before completion", io.ErrUnexpectedEOF)
	}

	out.Content = content.String()
	out.TokensIn = p.tokenCounter.GetTokenCount(out.TokensIn, "")
	if out.TokensIn == 0 {
		out.TokensIn = p.tokenCounter.EstimateMessages(req.Messages)
	}
	out.TokensOut = p.tokenCounter.GetTokenCount(out.TokensOut, out.Content)
	return out, nil
}

// errorMessage extracts the "error" field of a JSON error body, falling
// back to the raw text.
func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
