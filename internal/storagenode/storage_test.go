package storagenode

import (
	"bytes"
	"testing"

	"github.com/griddfs/griddfs/internal/splitter"
	"github.com/griddfs/griddfs/pkg/common"
)

func TestBlockStorePutGet(t *testing.T) {
	bs, err := NewBlockStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlockStore: %v", err)
	}

	data := []byte("block payload")
	hash := splitter.HashBlock(data)
	if _, err := bs.Put("blk-1", data, hash); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := bs.Get("blk-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("read payload differs from written payload")
	}
	if bs.Used() != int64(len(data)) {
		t.Errorf("Used = %d, want %d", bs.Used(), len(data))
	}
}

func TestBlockStorePutIdempotent(t *testing.T) {
	bs, err := NewBlockStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlockStore: %v", err)
	}

	data := []byte("same block twice")
	hash := splitter.HashBlock(data)
	p1, _ := bs.Put("blk-1", data, hash)
	p2, err := bs.Put("blk-1", data, hash)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if p1 != p2 {
		t.Errorf("paths differ: %q vs %q", p1, p2)
	}
	if bs.Used() != int64(len(data)) {
		t.Errorf("Used = %d after double put, want %d", bs.Used(), len(data))
	}
	if bs.BlockCount() != 1 {
		t.Errorf("BlockCount = %d, want 1", bs.BlockCount())
	}
}

func TestBlockStoreRemove(t *testing.T) {
	bs, err := NewBlockStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlockStore: %v", err)
	}

	data := []byte("to be removed")
	bs.Put("blk-1", data, splitter.HashBlock(data))
	if err := bs.Remove("blk-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if bs.Used() != 0 {
		t.Errorf("Used = %d after remove, want 0", bs.Used())
	}
	if _, err := bs.Get("blk-1"); err != common.ErrBlockNotFound {
		t.Errorf("Get after remove: %v, want ErrBlockNotFound", err)
	}
	if err := bs.Remove("blk-1"); err != common.ErrBlockNotFound {
		t.Errorf("second Remove: %v, want ErrBlockNotFound", err)
	}
}

func TestBlockStoreReloadsOnRestart(t *testing.T) {
	dir := t.TempDir()

	bs, err := NewBlockStore(dir)
	if err != nil {
		t.Fatalf("NewBlockStore: %v", err)
	}
	data := []byte("survives restart")
	bs.Put("blk-1", data, splitter.HashBlock(data))

	reopened, err := NewBlockStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Used() != int64(len(data)) {
		t.Errorf("Used after reopen = %d, want %d", reopened.Used(), len(data))
	}
	got, err := reopened.Get("blk-1")
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("Get after reopen = %q, %v", got, err)
	}
	meta, ok := reopened.Meta("blk-1")
	if !ok || meta.Hash != splitter.HashBlock(data) {
		t.Errorf("Meta after reopen = %+v, ok=%v", meta, ok)
	}
}
