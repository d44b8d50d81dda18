package metastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v3"

	"github.com/griddfs/griddfs/pkg/common"
)

// Key layout:
//
//	file/<owner>\x00<path>        -> FileMetadata
//	fileid/<fileID>               -> file key
//	block/<blockID>               -> BlockInfo
//	fileblock/<fileID>/<index>    -> blockID
//	node/<nodeID>                 -> StorageNodeInfo
//	loc/<blockID>/<nodeID>        -> BlockLocation
//	session/<sessionID>           -> UploadSession
//
// The (owner, path), (file, index) and (block, node) uniqueness constraints
// fall out of the key layout; conflicting writes are checked inside a single
// transaction.

// BadgerStore is a Store backed by an embedded badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger-backed store at path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open meta db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func bfileKey(owner, path string) []byte {
	return []byte("file/" + owner + "\x00" + path)
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func (b *BadgerStore) CreateFile(f *common.FileMetadata) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := bfileKey(f.Owner, f.Path)
		if _, err := txn.Get(key); err == nil {
			return common.ErrFileExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, key, f); err != nil {
			return err
		}
		return txn.Set([]byte("fileid/"+string(f.ID)), key)
	})
}

func (b *BadgerStore) GetFile(owner, path string) (*common.FileMetadata, error) {
	var f common.FileMetadata
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, bfileKey(owner, path), &f)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, common.ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (b *BadgerStore) ListFiles(owner, prefix string) ([]common.FileMetadata, error) {
	var out []common.FileMetadata
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		keyPrefix := []byte("file/" + owner + "\x00")
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			var f common.FileMetadata
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			}); err != nil {
				return err
			}
			if prefix != "" && prefix != "/" && !strings.HasPrefix(f.Path, prefix) {
				continue
			}
			out = append(out, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *BadgerStore) DeleteFile(owner, path string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := bfileKey(owner, path)
		var f common.FileMetadata
		if err := getJSON(txn, key, &f); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return common.ErrFileNotFound
			}
			return err
		}

		// Cascade: blocks and their locations go with the file.
		for _, blockID := range f.BlockIDs {
			if err := txn.Delete([]byte("block/" + string(blockID))); err != nil {
				return err
			}
			locPrefix := []byte("loc/" + string(blockID) + "/")
			it := txn.NewIterator(badger.IteratorOptions{Prefix: locPrefix})
			var locKeys [][]byte
			for it.Rewind(); it.Valid(); it.Next() {
				locKeys = append(locKeys, it.Item().KeyCopy(nil))
			}
			it.Close()
			for _, k := range locKeys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
		}

		fbPrefix := []byte("fileblock/" + string(f.ID) + "/")
		it := txn.NewIterator(badger.IteratorOptions{Prefix: fbPrefix})
		var fbKeys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			fbKeys = append(fbKeys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range fbKeys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		if err := txn.Delete([]byte("fileid/" + string(f.ID))); err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

func (b *BadgerStore) FileCount() (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("file/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (b *BadgerStore) PutBlocks(blocks []common.BlockInfo) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for i := range blocks {
			blk := blocks[i]
			fbKey := []byte(fmt.Sprintf("fileblock/%s/%08d", blk.FileID, blk.Index))
			if _, err := txn.Get(fbKey); err == nil {
				return fmt.Errorf("duplicate block index %d for file %s", blk.Index, blk.FileID)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := setJSON(txn, []byte("block/"+string(blk.ID)), &blk); err != nil {
				return err
			}
			if err := txn.Set(fbKey, []byte(blk.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStore) GetBlock(id common.BlockID) (*common.BlockInfo, error) {
	var blk common.BlockInfo
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte("block/"+string(id)), &blk)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, common.ErrBlockNotFound
	}
	if err != nil {
		return nil, err
	}
	return &blk, nil
}

func (b *BadgerStore) FileBlocks(fileID common.FileID) ([]common.BlockInfo, error) {
	var out []common.BlockInfo
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("fileblock/" + string(fileID) + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var blockID []byte
			if err := it.Item().Value(func(val []byte) error {
				blockID = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}
			var blk common.BlockInfo
			if err := getJSON(txn, []byte("block/"+string(blockID)), &blk); err != nil {
				return err
			}
			out = append(out, blk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Index is zero-padded in the key, iteration order is reassembly order.
	return out, nil
}

func (b *BadgerStore) UpsertNode(n *common.StorageNodeInfo) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, []byte("node/"+string(n.ID)), n)
	})
}

func (b *BadgerStore) GetNode(id common.NodeID) (*common.StorageNodeInfo, error) {
	var n common.StorageNodeInfo
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte("node/"+string(id)), &n)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, common.ErrNodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (b *BadgerStore) ListNodes() ([]common.StorageNodeInfo, error) {
	var out []common.StorageNodeInfo
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("node/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var n common.StorageNodeInfo
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &n)
			}); err != nil {
				return err
			}
			out = append(out, n)
		}
		return nil
	})
	return out, err
}

func (b *BadgerStore) AddLocation(loc *common.BlockLocation) (bool, error) {
	added := false
	err := b.db.Update(func(txn *badger.Txn) error {
		key := []byte("loc/" + string(loc.BlockID) + "/" + string(loc.NodeID))
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		added = true
		return setJSON(txn, key, loc)
	})
	return added, err
}

func (b *BadgerStore) MarkLocationStale(blockID common.BlockID, nodeID common.NodeID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := []byte("loc/" + string(blockID) + "/" + string(nodeID))
		var loc common.BlockLocation
		if err := getJSON(txn, key, &loc); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return common.ErrBlockNotFound
			}
			return err
		}
		loc.Status = common.LocationStale
		return setJSON(txn, key, &loc)
	})
}

func (b *BadgerStore) BlockLocations(blockID common.BlockID) ([]common.BlockLocation, error) {
	var out []common.BlockLocation
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("loc/" + string(blockID) + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var loc common.BlockLocation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &loc)
			}); err != nil {
				return err
			}
			out = append(out, loc)
		}
		return nil
	})
	return out, err
}

func (b *BadgerStore) PutSession(s *common.UploadSession) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, []byte("session/"+string(s.ID)), s)
	})
}

func (b *BadgerStore) ListSessions() ([]common.UploadSession, error) {
	var out []common.UploadSession
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("session/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var s common.UploadSession
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return err
			}
			out = append(out, s)
		}
		return nil
	})
	return out, err
}

func (b *BadgerStore) GetSession(id common.SessionID) (*common.UploadSession, error) {
	var s common.UploadSession
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte("session/"+string(id)), &s)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, common.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
