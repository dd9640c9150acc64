// kapchan/database/database_test.go
package database

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"kapchan/config"
	"kapchan/models"
)

func setupTestDB(t *testing.T) *Service {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_journal_mode=WAL&_foreign_keys=on"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := InitDB(dsn, logger)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.DB.Close(); err != nil {
			t.Errorf("failed to close test db: %v", err)
		}
	})
	return s
}

// testUser creates a user row at the given access level and returns the
// request-shaped identity for it.
func testUser(t *testing.T, s *Service, level models.AccessLevel) *models.UserData {
	t.Helper()
	u, err := s.CreateAnonymousUser()
	if err != nil {
		t.Fatalf("CreateAnonymousUser failed: %v", err)
	}
	if level != models.Anonymous {
		if _, err := s.DB.Exec("UPDATE users SET access_level = ? WHERE id = ?", level, u.ID); err != nil {
			t.Fatalf("failed to set access level: %v", err)
		}
	}
	return &models.UserData{ID: u.ID, AccessLevel: level, IP: "127.0.0.1"}
}

func testBoard(t *testing.T, s *Service, handle string, mutate func(*models.Board)) *models.Board {
	t.Helper()
	admin := testUser(t, s, models.Admin)
	b := &models.Board{
		Handle:             handle,
		Title:              "Test board",
		AccessLevel:        models.Anonymous,
		ActiveThreadsLimit: config.DefaultActiveThreadsLimit,
		ThreadSizeLimit:    config.DefaultThreadSizeLimit,
	}
	if mutate != nil {
		mutate(b)
	}
	if err := s.CreateBoard(admin, b); err != nil {
		t.Fatalf("CreateBoard failed: %v", err)
	}
	return b
}

func TestCreateBoardValidation(t *testing.T) {
	s := setupTestDB(t)
	admin := testUser(t, s, models.Admin)
	member := testUser(t, s, models.Member)

	if err := s.CreateBoard(member, &models.Board{Handle: "a", Title: "A"}); err == nil {
		t.Fatal("expected non-admin board creation to fail")
	}
	if err := s.CreateBoard(admin, &models.Board{Handle: "has space", Title: "A"}); err == nil {
		t.Fatal("expected invalid handle to fail")
	}
	if err := s.CreateBoard(admin, &models.Board{Handle: "toolonghandle", Title: "A"}); err == nil {
		t.Fatal("expected overlong handle to fail")
	}

	b := &models.Board{Handle: "b", Title: "B", ActiveThreadsLimit: 10, ThreadSizeLimit: 100}
	if err := s.CreateBoard(admin, b); err != nil {
		t.Fatalf("CreateBoard failed: %v", err)
	}
	if err := s.CreateBoard(admin, &models.Board{Handle: "b", Title: "B2", ActiveThreadsLimit: 10, ThreadSizeLimit: 100}); err == nil {
		t.Fatal("expected duplicate handle to fail")
	}

	got, err := s.GetBoard("b")
	if err != nil {
		t.Fatalf("GetBoard failed: %v", err)
	}
	if got.ID != b.ID || got.Title != "B" {
		t.Fatalf("GetBoard returned wrong board: %+v", got)
	}
}

func TestListBoardsAccessFilter(t *testing.T) {
	s := setupTestDB(t)
	testBoard(t, s, "pub", nil)
	testBoard(t, s, "mem", func(b *models.Board) { b.AccessLevel = models.Member })

	anon, err := s.ListBoards(models.Anonymous)
	if err != nil {
		t.Fatalf("ListBoards failed: %v", err)
	}
	if len(anon) != 1 || anon[0].Handle != "pub" {
		t.Fatalf("anonymous should see only the public board, got %+v", anon)
	}

	member, err := s.ListBoards(models.Member)
	if err != nil {
		t.Fatalf("ListBoards failed: %v", err)
	}
	if len(member) != 2 {
		t.Fatalf("member should see both boards, got %d", len(member))
	}
}

func TestSeedRootUser(t *testing.T) {
	s := setupTestDB(t)
	if err := s.SeedRootUser("hunter22"); err != nil {
		t.Fatalf("SeedRootUser failed: %v", err)
	}
	u, err := s.AuthenticateUser("root", "hunter22")
	if err != nil {
		t.Fatalf("root login failed: %v", err)
	}
	if u.AccessLevel != models.Root {
		t.Fatalf("root should have access %d, got %d", models.Root, u.AccessLevel)
	}

	// Re-seeding rotates the password in place.
	if err := s.SeedRootUser("changed"); err != nil {
		t.Fatalf("SeedRootUser rotate failed: %v", err)
	}
	if _, err := s.AuthenticateUser("root", "hunter22"); err == nil {
		t.Fatal("old root password should no longer work")
	}
	if _, err := s.AuthenticateUser("root", "changed"); err != nil {
		t.Fatalf("new root password should work: %v", err)
	}
}

func TestListChatRoomsSeeded(t *testing.T) {
	s := setupTestDB(t)
	rooms, err := s.ListChatRooms()
	if err != nil {
		t.Fatalf("ListChatRooms failed: %v", err)
	}
	if len(rooms) != 2 || rooms[0].Name != "yleinen" || rooms[1].Name != "aihevapaa" {
		t.Fatalf("unexpected seeded rooms: %+v", rooms)
	}
}
