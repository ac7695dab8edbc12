package ports

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/webis-de/GenIRSim/internal/domain"
)

func TestPluginCallError(t *testing.T) {
	cause := domain.NewTransportError("http://localhost:9200/_search", 503, "unavailable", nil)

	tests := []struct {
		name    string
		err     *PluginCallError
		wantMsg string
	}{
		{
			name:    "system call at a turn",
			err:     NewPluginCallError(CapabilitySystem, "", "Search", 2, cause),
			wantMsg: "system.Search failed at turn 2: " + cause.Error(),
		},
		{
			name:    "named evaluator overall",
			err:     NewPluginCallError(CapabilityEvaluator, "relevance", "Evaluate", domain.Overall, cause),
			wantMsg: "evaluator relevance.Evaluate failed at overall: " + cause.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
			assert.True(t, errors.Is(tt.err, domain.ErrTransport), "Should unwrap to the plugin's error")
		})
	}
}
