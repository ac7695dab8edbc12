package domain

// Configuration is the complete, typed description of one run.
type Configuration struct {
	Simulation SimulationConfiguration `json:"simulation" yaml:"simulation"`
	Evaluation EvaluationConfiguration `json:"evaluation" yaml:"evaluation"`
}

// SimulationConfiguration selects the user and system plugins and bounds the
// conversation length.
type SimulationConfiguration struct {
	Topic    Topic               `json:"topic" yaml:"topic"`
	User     PluginConfiguration `json:"user" yaml:"user"`
	System   PluginConfiguration `json:"system" yaml:"system"`
	MaxTurns int                 `json:"maxTurns" yaml:"maxTurns" validate:"min=1"`
}

// EvaluationConfiguration maps evaluator names to their plugin
// configurations.
type EvaluationConfiguration struct {
	Evaluators map[string]PluginConfiguration `json:"evaluators,omitempty" yaml:"evaluators" validate:"dive"`
}

// PluginConfiguration names a plugin implementation and carries its
// constructor configuration. Module and Class select the implementation;
// Configuration is handed to it unchanged. A nil Configuration is treated
// as missing.
type PluginConfiguration struct {
	Module        string         `json:"module" yaml:"module" validate:"pluginmodule"`
	Class         string         `json:"class" yaml:"class" validate:"required"`
	Configuration map[string]any `json:"configuration" yaml:"configuration" validate:"required"`
}
