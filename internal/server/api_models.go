package server

import "github.com/phishr/phishr/internal/model"

// ScanRequest is the payload for a single-URL scan.
type ScanRequest struct {
	URL string `json:"url" example:"https://example.com/login"`
}

// BatchScanRequest is the payload for a batch scan.
type BatchScanRequest struct {
	URLs []string `json:"urls" example:"[\"https://example.com\"]"`
}

// HealthResponse reports service liveness and whether a classifier is loaded.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Model  string `json:"model,omitempty" example:"ensemble"`
}

// ModelResponse describes the loaded classifier.
type ModelResponse struct {
	Model   string   `json:"model" example:"ensemble"`
	Classes []string `json:"classes,omitempty" example:"[\"Legitimate\",\"Malicious\"]"`
	Loaded  bool     `json:"loaded" example:"true"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"invalid JSON"`
}

// ProgressEvent is one websocket frame of a streaming batch scan.
type ProgressEvent struct {
	Index   int            `json:"index"`
	Total   int            `json:"total"`
	Verdict *model.Verdict `json:"verdict,omitempty"`
	Done    bool           `json:"done,omitempty"`
}
