package api

import (
	"time"

	"github.com/example/evmscan/internal/config"
)

// JobRequest is the JSON body accepted by POST /jobs. It mirrors
// config.Config but is tagged for decoding directly off the wire instead of
// being loaded from a YAML file on disk.
type JobRequest struct {
	Mode          config.ScanMode         `json:"mode"`
	StartBlock    string                  `json:"start_block"`
	EndBlock      string                  `json:"end_block"`
	LiveThreshold uint64                  `json:"live_threshold"`
	Contracts     []config.ContractConfig `json:"contracts"`
	Events        []string                `json:"events"`
	Endpoints     []config.EndpointConfig `json:"endpoints"`
	Storage       config.StorageConfig    `json:"storage"`
	Retry         config.RetryConfig      `json:"retry"`
}

// JobResponse is returned after a successful job creation.
type JobResponse struct {
	JobID string `json:"job_id"`
}

// JobStatus represents the runtime state of a launched scan job. LatestBlock
// mirrors the job's store watermark (store.Store.Latest()) at the moment of
// the request, so a client can poll scan progress without a separate
// endpoint.
type JobStatus struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"` // queued | running | finished | error | cancelled
	Error       string     `json:"error,omitempty"`
	LatestBlock uint64     `json:"latest_block"`
	StartedAt   time.Time  `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
