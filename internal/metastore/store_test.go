package metastore

import (
	"testing"
	"time"

	"github.com/griddfs/griddfs/pkg/common"
)

// Both implementations share the same contract; every case runs against each.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("badger", func(t *testing.T) {
		s, err := OpenBadger(t.TempDir())
		if err != nil {
			t.Fatalf("OpenBadger: %v", err)
		}
		defer s.Close()
		fn(t, s)
	})
}

func sampleFile(id common.FileID, owner, path string, blocks ...common.BlockID) *common.FileMetadata {
	return &common.FileMetadata{
		ID:        id,
		Owner:     owner,
		Name:      "file.bin",
		Path:      path,
		Size:      128,
		Hash:      "abc",
		BlockIDs:  blocks,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestFileUniquePath(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		if err := s.CreateFile(sampleFile("f1", "alice", "/docs/a")); err != nil {
			t.Fatalf("CreateFile: %v", err)
		}
		if err := s.CreateFile(sampleFile("f2", "alice", "/docs/a")); err != common.ErrFileExists {
			t.Errorf("duplicate (owner, path) err = %v, want ErrFileExists", err)
		}
		// Same path under another owner is a different file.
		if err := s.CreateFile(sampleFile("f3", "bob", "/docs/a")); err != nil {
			t.Errorf("same path, other owner: %v", err)
		}
	})
}

func TestFileLookupAndList(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		s.CreateFile(sampleFile("f1", "alice", "/docs/a"))
		s.CreateFile(sampleFile("f2", "alice", "/docs/b"))
		s.CreateFile(sampleFile("f3", "alice", "/media/c"))
		s.CreateFile(sampleFile("f4", "bob", "/docs/d"))

		got, err := s.GetFile("alice", "/docs/a")
		if err != nil || got.ID != "f1" {
			t.Errorf("GetFile = %+v, %v", got, err)
		}
		if _, err := s.GetFile("alice", "/missing"); err != common.ErrFileNotFound {
			t.Errorf("missing file err = %v", err)
		}

		docs, err := s.ListFiles("alice", "/docs")
		if err != nil || len(docs) != 2 {
			t.Errorf("ListFiles(/docs) = %d files, %v; want 2", len(docs), err)
		}
		all, err := s.ListFiles("alice", "/")
		if err != nil || len(all) != 3 {
			t.Errorf("ListFiles(/) = %d files, %v; want 3", len(all), err)
		}

		n, err := s.FileCount()
		if err != nil || n != 4 {
			t.Errorf("FileCount = %d, %v; want 4", n, err)
		}
	})
}

func TestBlockIndexUnique(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		blocks := []common.BlockInfo{
			{ID: "b1", FileID: "f1", Index: 0, Size: 10, Hash: "h1", CreatedAt: time.Now()},
			{ID: "b2", FileID: "f1", Index: 1, Size: 10, Hash: "h2", CreatedAt: time.Now()},
		}
		if err := s.PutBlocks(blocks); err != nil {
			t.Fatalf("PutBlocks: %v", err)
		}
		dup := []common.BlockInfo{
			{ID: "b3", FileID: "f1", Index: 1, Size: 10, Hash: "h3", CreatedAt: time.Now()},
		}
		if err := s.PutBlocks(dup); err == nil {
			t.Error("duplicate (file, index) accepted")
		}

		got, err := s.FileBlocks("f1")
		if err != nil || len(got) != 2 {
			t.Fatalf("FileBlocks = %d blocks, %v", len(got), err)
		}
		if got[0].Index != 0 || got[1].Index != 1 {
			t.Error("FileBlocks not ordered by index")
		}
	})
}

func TestLocationIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		loc := &common.BlockLocation{
			BlockID:     "b1",
			NodeID:      "n1",
			Status:      common.LocationActive,
			StoragePath: "/data/b1",
			ConfirmedAt: time.Now(),
		}
		added, err := s.AddLocation(loc)
		if err != nil || !added {
			t.Fatalf("AddLocation = %v, %v; want true", added, err)
		}
		added, err = s.AddLocation(loc)
		if err != nil || added {
			t.Errorf("duplicate AddLocation = %v, %v; want false, nil", added, err)
		}

		locs, err := s.BlockLocations("b1")
		if err != nil || len(locs) != 1 {
			t.Errorf("BlockLocations = %d, %v; want 1", len(locs), err)
		}
	})
}

func TestMarkLocationStale(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		s.AddLocation(&common.BlockLocation{BlockID: "b1", NodeID: "n1", Status: common.LocationActive})
		s.AddLocation(&common.BlockLocation{BlockID: "b1", NodeID: "n2", Status: common.LocationActive})

		if err := s.MarkLocationStale("b1", "n1"); err != nil {
			t.Fatalf("MarkLocationStale: %v", err)
		}

		locs, _ := s.BlockLocations("b1")
		for _, loc := range locs {
			want := common.LocationActive
			if loc.NodeID == "n1" {
				want = common.LocationStale
			}
			if loc.Status != want {
				t.Errorf("location %s status = %s, want %s", loc.NodeID, loc.Status, want)
			}
		}

		if err := s.MarkLocationStale("b1", "n9"); err == nil {
			t.Error("staling an unknown location succeeded")
		}
	})
}

func TestDeleteFileCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		s.PutBlocks([]common.BlockInfo{
			{ID: "b1", FileID: "f1", Index: 0, Size: 10, Hash: "h1"},
			{ID: "b2", FileID: "f1", Index: 1, Size: 10, Hash: "h2"},
		})
		s.AddLocation(&common.BlockLocation{BlockID: "b1", NodeID: "n1", Status: common.LocationActive})
		s.CreateFile(sampleFile("f1", "alice", "/docs/a", "b1", "b2"))

		if err := s.DeleteFile("alice", "/docs/a"); err != nil {
			t.Fatalf("DeleteFile: %v", err)
		}

		if _, err := s.GetFile("alice", "/docs/a"); err != common.ErrFileNotFound {
			t.Errorf("file survives delete: %v", err)
		}
		if _, err := s.GetBlock("b1"); err != common.ErrBlockNotFound {
			t.Errorf("block survives delete: %v", err)
		}
		if locs, _ := s.BlockLocations("b1"); len(locs) != 0 {
			t.Errorf("%d locations survive delete", len(locs))
		}
		if err := s.DeleteFile("alice", "/docs/a"); err != common.ErrFileNotFound {
			t.Errorf("second delete err = %v", err)
		}
	})
}

func TestNodeUpsert(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		node := &common.StorageNodeInfo{
			ID:              "n1",
			Address:         "127.0.0.1:9001",
			Status:          common.NodeActive,
			StorageUsed:     100,
			StorageCapacity: 1000,
			RegisteredAt:    time.Now(),
		}
		if err := s.UpsertNode(node); err != nil {
			t.Fatalf("UpsertNode: %v", err)
		}

		node.StorageUsed = 200
		node.Status = common.NodeInactive
		if err := s.UpsertNode(node); err != nil {
			t.Fatalf("second UpsertNode: %v", err)
		}

		got, err := s.GetNode("n1")
		if err != nil || got.StorageUsed != 200 || got.Status != common.NodeInactive {
			t.Errorf("GetNode = %+v, %v", got, err)
		}
		if _, err := s.GetNode("n9"); err != common.ErrNodeNotFound {
			t.Errorf("unknown node err = %v", err)
		}

		nodes, err := s.ListNodes()
		if err != nil || len(nodes) != 1 {
			t.Errorf("ListNodes = %d, %v", len(nodes), err)
		}
	})
}

func TestSessionRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		sess := &common.UploadSession{
			ID:          "s1",
			Owner:       "alice",
			FilePath:    "/docs/a",
			FileName:    "a",
			FileSize:    128,
			TotalBlocks: 2,
			Status:      common.SessionPending,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		if err := s.PutSession(sess); err != nil {
			t.Fatalf("PutSession: %v", err)
		}

		sess.Status = common.SessionCompleted
		s.PutSession(sess)

		got, err := s.GetSession("s1")
		if err != nil || got.Status != common.SessionCompleted {
			t.Errorf("GetSession = %+v, %v", got, err)
		}
		if _, err := s.GetSession("s9"); err != common.ErrSessionNotFound {
			t.Errorf("unknown session err = %v", err)
		}

		s.PutSession(&common.UploadSession{ID: "s2", Status: common.SessionInProgress})
		all, err := s.ListSessions()
		if err != nil || len(all) != 2 {
			t.Errorf("ListSessions = %d, %v; want 2", len(all), err)
		}
	})
}
