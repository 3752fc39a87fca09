package protocol

import "fmt"

// RewardShapeError reports a size mismatch between rewards and uids in one
// batch. It is an invariant violation: the reputation engine rejects the
// batch without touching state.
type RewardShapeError struct {
	Rewards int
	UIDs    int
}

func (e *RewardShapeError) Error() string {
	return fmt.Sprintf("reward batch shape mismatch: %d rewards for %d uids", e.Rewards, e.UIDs)
}

// DuplicateUIDError reports a uid appearing more than once in a reward batch.
// UIDs are assumed mutually exclusive within a batch.
type DuplicateUIDError struct {
	UID int
}

func (e *DuplicateUIDError) Error() string {
	return fmt.Sprintf("duplicate uid %d in reward batch", e.UID)
}

// UIDRangeError reports a uid outside the current membership.
type UIDRangeError struct {
	UID  int
	Size int
}

func (e *UIDRangeError) Error() string {
	return fmt.Sprintf("uid %d out of range for membership of size %d", e.UID, e.Size)
}

// PeerUnreachableError represents a miner communication failure. The
// transport recovers from it locally (the peer is dropped from the batch);
// the type exists for logging and error discrimination in tests.
type PeerUnreachableError struct {
	UID    int
	Addr   string
	Reason string
}

func (e *PeerUnreachableError) Error() string {
	return fmt.Sprintf("miner %d unreachable at %s: %s", e.UID, e.Addr, e.Reason)
}
