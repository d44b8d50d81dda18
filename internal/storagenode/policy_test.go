package storagenode

import (
	"math/rand"
	"testing"
)

func TestDecideCapacityGuard(t *testing.T) {
	// The guard is absolute: no rng seed may let an overfull node accept.
	for seed := int64(0); seed < 50; seed++ {
		rnd := rand.New(rand.NewSource(seed))
		got := Decide(PolicyInput{
			BlockSize:         100,
			StorageUsed:       950,
			StorageCapacity:   1000,
			ReplicationTarget: 2,
			ActiveNodes:       2,
			BaseProbability:   1.0,
		}, rnd)
		if got != Decline {
			t.Fatalf("seed %d: block past capacity was accepted", seed)
		}
	}
}

func TestDecideExactFit(t *testing.T) {
	// used + size == capacity is allowed; only exceeding declines.
	rnd := rand.New(rand.NewSource(1))
	accepted := false
	for i := 0; i < 200; i++ {
		if Decide(PolicyInput{
			BlockSize:       100,
			StorageUsed:     900,
			StorageCapacity: 1000,
			BaseProbability: 1.0,
		}, rnd) == Store {
			accepted = true
			break
		}
	}
	if !accepted {
		t.Error("exact-fit block was never accepted")
	}
}

func TestDecideZeroCapacity(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	if Decide(PolicyInput{BlockSize: 1, StorageCapacity: 0}, rnd) != Decline {
		t.Error("node with no capacity accepted a block")
	}
}

func TestDecideAlwaysStoresWhenHintSaturates(t *testing.T) {
	// Empty node, R=2 of N=3 and an uncapped probability: 2*1.0*(2/3) > 1,
	// so the node must volunteer on every draw.
	for seed := int64(0); seed < 50; seed++ {
		rnd := rand.New(rand.NewSource(seed))
		got := Decide(PolicyInput{
			BlockSize:         10,
			StorageUsed:       0,
			StorageCapacity:   1000,
			ReplicationTarget: 2,
			ActiveNodes:       3,
			BaseProbability:   1.0,
		}, rnd)
		if got != Store {
			t.Fatalf("seed %d: saturated probability still declined", seed)
		}
	}
}

func TestDecideProbabilityScalesWithFreeSpace(t *testing.T) {
	// A nearly-full node should volunteer far less often than an empty one.
	trials := 10000
	emptyStores, fullStores := 0, 0

	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < trials; i++ {
		if Decide(PolicyInput{
			BlockSize:         1,
			StorageUsed:       0,
			StorageCapacity:   1000,
			ReplicationTarget: 1,
			ActiveNodes:       10,
			BaseProbability:   0.8,
		}, rnd) == Store {
			emptyStores++
		}
		if Decide(PolicyInput{
			BlockSize:         1,
			StorageUsed:       900,
			StorageCapacity:   1000,
			ReplicationTarget: 1,
			ActiveNodes:       10,
			BaseProbability:   0.8,
		}, rnd) == Store {
			fullStores++
		}
	}

	// Expected rates: 2*1.0*0.1 = 0.2 vs 2*0.1*0.1 = 0.02.
	if emptyStores <= fullStores*5 {
		t.Errorf("empty node stored %d times, 90%%-full node %d times; expected roughly 10x gap",
			emptyStores, fullStores)
	}
}

func TestDecideBaseProbabilityCap(t *testing.T) {
	// With the hint saturating p, the cap bounds the accept rate.
	trials := 10000
	stores := 0
	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < trials; i++ {
		if Decide(PolicyInput{
			BlockSize:         1,
			StorageUsed:       0,
			StorageCapacity:   1000,
			ReplicationTarget: 5,
			ActiveNodes:       5,
			BaseProbability:   0.5,
		}, rnd) == Store {
			stores++
		}
	}
	rate := float64(stores) / float64(trials)
	if rate < 0.45 || rate > 0.55 {
		t.Errorf("accept rate = %.3f, want ~0.5 under the cap", rate)
	}
}

func TestDecideFallbackWithoutHint(t *testing.T) {
	// No cluster hint: p falls back to the free fraction.
	trials := 10000
	stores := 0
	rnd := rand.New(rand.NewSource(11))
	for i := 0; i < trials; i++ {
		if Decide(PolicyInput{
			BlockSize:       1,
			StorageUsed:     700,
			StorageCapacity: 1000,
			BaseProbability: 0.8,
		}, rnd) == Store {
			stores++
		}
	}
	rate := float64(stores) / float64(trials)
	if rate < 0.25 || rate > 0.35 {
		t.Errorf("accept rate = %.3f, want ~0.3 (the free fraction)", rate)
	}
}
