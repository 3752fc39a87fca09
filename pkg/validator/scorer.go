package validator

import "recnet/pkg/protocol"

// Scorer is the reward oracle: it turns one round's responses into rewards
// in [0,1], one per responding miner. Implementations are black boxes to the
// loop; the default just checks the result-count contract.
type Scorer interface {
	Score(req protocol.RecRequest, batch protocol.ResponseBatch) protocol.RewardBatch
}

// ExactCount rewards 1.0 for a response carrying exactly the requested
// number of results and 0.0 otherwise. Duplicate miner uids in the batch are
// collapsed to their first occurrence so the reward batch stays well-formed.
type ExactCount struct{}

// Score implements Scorer.
func (ExactCount) Score(req protocol.RecRequest, batch protocol.ResponseBatch) protocol.RewardBatch {
	var out protocol.RewardBatch
	seen := make(map[int]bool, len(batch))
	for _, resp := range batch {
		if seen[resp.MinerUID] {
			continue
		}
		seen[resp.MinerUID] = true

		reward := 0.0
		if len(resp.Results) == req.NumResults {
			reward = 1.0
		}
		out.UIDs = append(out.UIDs, resp.MinerUID)
		out.Rewards = append(out.Rewards, reward)
	}
	return out
}
