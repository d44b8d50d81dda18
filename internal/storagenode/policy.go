package storagenode

import (
	"math/rand"
)

// Decision is the outcome of the storage admission policy.
type Decision int

const (
	Decline Decision = iota
	Store
)

// PolicyInput is everything the admission policy may look at: the node's own
// capacity state, the block, and the cluster hint carried by the broadcast.
// Nothing in here depends on other nodes' decisions.
type PolicyInput struct {
	BlockSize       int64
	StorageUsed     int64
	StorageCapacity int64

	// Cluster hint: roughly ReplicationTarget of ActiveNodes nodes should
	// volunteer. ActiveNodes == 0 means no hint was available.
	ReplicationTarget int
	ActiveNodes       int

	// BaseProbability caps the volunteer probability (default 0.8).
	BaseProbability float64
}

// Decide runs the admission policy. The capacity guard is absolute: a block
// that would not fit is always declined regardless of the probabilistic
// weighting. Otherwise the node volunteers with probability proportional to
// its free-capacity fraction, scaled by the cluster hint so that the expected
// number of accepters across the fleet approaches the replication target.
func Decide(in PolicyInput, rnd *rand.Rand) Decision {
	if in.StorageCapacity <= 0 {
		return Decline
	}
	if in.StorageUsed+in.BlockSize > in.StorageCapacity {
		return Decline
	}

	free := 1.0 - float64(in.StorageUsed)/float64(in.StorageCapacity)

	maxP := in.BaseProbability
	if maxP <= 0 || maxP > 1 {
		maxP = 0.8
	}

	var p float64
	if in.ActiveNodes > 0 && in.ReplicationTarget > 0 {
		// With free fractions averaging 0.5 across the fleet, the expected
		// accepter count is ActiveNodes * (R/N) * 2 * 0.5 = R.
		hint := float64(in.ReplicationTarget) / float64(in.ActiveNodes)
		p = 2 * free * hint
	} else {
		p = free
	}
	if p > maxP {
		p = maxP
	}

	if rnd.Float64() < p {
		return Store
	}
	return Decline
}
