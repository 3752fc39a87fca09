package validator

import "recnet/pkg/protocol"

// Arbiter picks the winning response for an externally bridged request. The
// policy is pluggable; the loop only cares that nil means "no acceptable
// response".
type Arbiter interface {
	SelectWinner(req protocol.RecRequest, batch protocol.ResponseBatch) *protocol.RecResponse
}

// FirstMatch accepts a response only when its result count exactly equals
// the requested count, and among acceptable responses returns the first one
// in batch order. Batch order is transport arrival order, not a quality
// ranking — a quality-based arbiter can be swapped in without touching the
// loop.
type FirstMatch struct{}

// SelectWinner implements Arbiter.
func (FirstMatch) SelectWinner(req protocol.RecRequest, batch protocol.ResponseBatch) *protocol.RecResponse {
	for i := range batch {
		if len(batch[i].Results) == req.NumResults {
			return &batch[i]
		}
	}
	return nil
}
