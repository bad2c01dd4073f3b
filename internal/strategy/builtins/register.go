package builtins

import "tradelab/internal/strategy"

// Register adds every built-in strategy to r.
func Register(r *strategy.Registry) {
	r.Register("score-threshold", ScoreThresholdFactory)
	r.Register("sma-cross", SMACrossFactory)
}

// Default returns a Registry holding the built-in strategies.
func Default() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}
