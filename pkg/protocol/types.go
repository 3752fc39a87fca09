package protocol

import (
	"errors"
	"time"
)

// RecRequest is the envelope for one recommendation request. It is immutable
// once created: the validator and miners pass it around by value and never
// modify it.
type RecRequest struct {
	ID         string    `json:"id"`          // unique request ID (uuid)
	Query      string    `json:"query"`       // the SKU the shopper is browsing
	Context    string    `json:"context"`     // JSON-encoded store catalog to choose from
	NumResults int       `json:"num_results"` // exact number of recommendations wanted
	Originator string    `json:"originator"`  // identity key of the submitting party
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks the envelope fields a miner or validator depends on.
func (r RecRequest) Validate() error {
	if r.Query == "" {
		return errors.New("request query is empty")
	}
	if r.NumResults < 1 || r.NumResults > MaxResultsPerRequest {
		return errors.New("num_results out of range")
	}
	return nil
}

// RecResponse is a single miner's reply to a RecRequest.
type RecResponse struct {
	RequestID  string    `json:"request_id"`
	MinerUID   int       `json:"miner_uid"`
	MinerKey   string    `json:"miner_key"`
	Results    []string  `json:"results"` // compact JSON recommendation objects
	ModelsUsed []string  `json:"models_used,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LatencyMs  int64     `json:"latency_ms,omitempty"` // round-trip latency, filled by the transport
}

// ResponseBatch is the ordered set of replies collected for one dispatch
// round. Order is whatever the transport produced; peers that dropped or
// timed out are simply absent.
type ResponseBatch []RecResponse

// MaxResultsPerRequest bounds how many recommendations one request may ask for.
const MaxResultsPerRequest = 21

// RewardBatch maps miner UIDs to scalar rewards in [0,1] for one round.
// UIDs must be mutually exclusive within a batch.
type RewardBatch struct {
	UIDs    []int
	Rewards []float64
}

// Len returns the number of entries in the batch.
func (b RewardBatch) Len() int { return len(b.UIDs) }
