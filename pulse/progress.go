// Package pulse provides shared contracts for the async job subsystem.
// Subpackages implement the pieces: async (queue, worker pool, handlers),
// budget (spend tracking and rate limiting), schedule (recurring watches).
package pulse

// ProgressEmitter is how pipeline code reports progress without knowing
// about jobs, queues, or transports. The async worker hands each handler an
// emitter bound to its job row; tests hand in recorders.
type ProgressEmitter interface {
	// EmitStage records entry into a named pipeline stage. Progress is a
	// fraction in [0,1] and is expected to be monotonically non-decreasing
	// over a run.
	EmitStage(stage string, progress float64)

	// EmitMetrics records run counters (videos, segments, missing, ...).
	EmitMetrics(metrics map[string]float64)

	// EmitError reports a stage failure. Implementations log or surface the
	// failure; terminal state transitions belong to the caller.
	EmitError(stage string, err error)

	// EmitInfo reports a human-readable progress message.
	EmitInfo(message string)
}

// NopEmitter discards all progress. Useful for synchronous CLI runs and
// tests that do not assert on progress.
type NopEmitter struct{}

func (NopEmitter) EmitStage(string, float64)      {}
func (NopEmitter) EmitMetrics(map[string]float64) {}
func (NopEmitter) EmitError(string, error)        {}
func (NopEmitter) EmitInfo(string)                {}
