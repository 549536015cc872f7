package async

import "encoding/json"

// createTestJob is a shared helper for all tests to create jobs with generic
// payloads. The payload mirrors the run request shape handlers expect.
func createTestJob(handlerName, source string, estimatedCost float64) *Job {
	payload, _ := json.Marshal(map[string]interface{}{
		"target": source,
	})
	job, err := NewJob(handlerName, source, payload, estimatedCost)
	if err != nil {
		panic(err) // unreachable with a non-empty handler name
	}
	return job
}
