// Package splitter turns a byte stream into ordered fixed-size blocks.
package splitter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/griddfs/griddfs/pkg/common"
)

// Block is one chunk produced by Split. Index defines reassembly order; the
// last block of a file may be shorter than the configured block size.
type Block struct {
	Index int
	Size  int64
	Hash  string
	Data  []byte
}

// Result is the outcome of splitting one file.
type Result struct {
	Blocks   []Block
	FileSize int64
	FileHash string
}

// Split reads r to EOF and cuts it into blocks of blockSize bytes. It is
// deterministic: identical input yields identical block boundaries and
// hashes. Zero-length input is rejected with ErrEmptyFile.
func Split(r io.Reader, blockSize int64) (*Result, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}

	fileHash := sha256.New()
	var blocks []Block
	var total int64

	buf := make([]byte, blockSize)
	index := 0
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			fileHash.Write(data)

			blocks = append(blocks, Block{
				Index: index,
				Size:  int64(n),
				Hash:  HashBlock(data),
				Data:  data,
			})
			total += int64(n)
			index++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read block %d: %w", index, err)
		}
	}

	if len(blocks) == 0 {
		return nil, common.ErrEmptyFile
	}

	return &Result{
		Blocks:   blocks,
		FileSize: total,
		FileHash: hex.EncodeToString(fileHash.Sum(nil)),
	}, nil
}

// HashBlock returns the sha256 hex digest of a block payload.
func HashBlock(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify checks a payload against its expected digest.
func Verify(data []byte, hash string) error {
	if HashBlock(data) != hash {
		return common.ErrChecksumMismatch
	}
	return nil
}
