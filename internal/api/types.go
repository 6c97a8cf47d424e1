package api

import "llm-compiler-fuzz/internal/storage"

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	State    string `json:"state"`
	Database bool   `json:"database"`
	Uptime   string `json:"uptime"`
}

// CrashSummary is one crash record as listed by /crashes. Streams are
// omitted; fetch the diagnostic log from the work directory for those.
type CrashSummary struct {
	Artifact    string `json:"artifact"`
	BatchIndex  int    `json:"batch_index"`
	ExitCode    int    `json:"exit_code"`
	TimedOut    bool   `json:"timed_out"`
	StderrBytes int    `json:"stderr_bytes"`
}

// CrashesResponse is returned by the crash listing endpoint.
type CrashesResponse struct {
	Count   int            `json:"count"`
	Crashes []CrashSummary `json:"crashes"`
}

func summarizeCrash(c storage.CrashLog) CrashSummary {
	return CrashSummary{
		Artifact:    c.Artifact,
		BatchIndex:  c.BatchIndex,
		ExitCode:    c.ExitCode,
		TimedOut:    c.TimedOut,
		StderrBytes: len(c.Stderr),
	}
}
