package splitter

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/griddfs/griddfs/pkg/common"
)

func TestSplitReassemble(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	data := make([]byte, 10*1024+37) // not a multiple of the block size
	rnd.Read(data)

	result, err := Split(bytes.NewReader(data), 1024)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	if result.FileSize != int64(len(data)) {
		t.Errorf("FileSize = %d, want %d", result.FileSize, len(data))
	}
	if len(result.Blocks) != 11 {
		t.Fatalf("got %d blocks, want 11", len(result.Blocks))
	}
	if last := result.Blocks[10]; last.Size != 37 {
		t.Errorf("last block size = %d, want 37", last.Size)
	}

	var assembled []byte
	for i, blk := range result.Blocks {
		if blk.Index != i {
			t.Errorf("block %d has index %d", i, blk.Index)
		}
		if err := Verify(blk.Data, blk.Hash); err != nil {
			t.Errorf("block %d failed its own hash: %v", i, err)
		}
		assembled = append(assembled, blk.Data...)
	}
	if !bytes.Equal(assembled, data) {
		t.Error("reassembled bytes differ from input")
	}
	if err := Verify(assembled, result.FileHash); err != nil {
		t.Errorf("file hash mismatch: %v", err)
	}
}

func TestSplitExactMultiple(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 4096)
	result, err := Split(bytes.NewReader(data), 1024)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(result.Blocks) != 4 {
		t.Errorf("got %d blocks, want 4", len(result.Blocks))
	}
	for i, blk := range result.Blocks {
		if blk.Size != 1024 {
			t.Errorf("block %d size = %d, want 1024", i, blk.Size)
		}
	}
}

func TestSplitSmallerThanBlockSize(t *testing.T) {
	result, err := Split(bytes.NewReader([]byte("hello")), 1024)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(result.Blocks) != 1 || result.Blocks[0].Size != 5 {
		t.Errorf("got %d blocks (first size %d), want one block of 5 bytes",
			len(result.Blocks), result.Blocks[0].Size)
	}
}

func TestSplitEmptyInput(t *testing.T) {
	_, err := Split(bytes.NewReader(nil), 1024)
	if err != common.ErrEmptyFile {
		t.Errorf("err = %v, want ErrEmptyFile", err)
	}
}

func TestSplitInvalidBlockSize(t *testing.T) {
	if _, err := Split(bytes.NewReader([]byte("x")), 0); err == nil {
		t.Error("expected error for zero block size")
	}
}

func TestSplitDeterministic(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), 1000)

	a, err := Split(bytes.NewReader(data), 512)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	b, err := Split(bytes.NewReader(data), 512)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	if a.FileHash != b.FileHash {
		t.Error("file hashes differ across runs")
	}
	for i := range a.Blocks {
		if a.Blocks[i].Hash != b.Blocks[i].Hash {
			t.Errorf("block %d hash differs across runs", i)
		}
	}
}

func TestVerifyMismatch(t *testing.T) {
	if err := Verify([]byte("data"), HashBlock([]byte("other"))); err != common.ErrChecksumMismatch {
		t.Errorf("err = %v, want ErrChecksumMismatch", err)
	}
}
