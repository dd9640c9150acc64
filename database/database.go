// kapchan/database/database.go
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"kapchan/models"
	"kapchan/utils"
)

// Service is the central struct for all database operations: the
// relational store, the thread/post engine, and the captcha service all
// hang off it.
type Service struct {
	DB     *sql.DB
	logger *slog.Logger
}

var handleRe = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// InitDB connects to the database, runs migrations, and seeds default data.
func InitDB(dataSourceName string, logger *slog.Logger) (*Service, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}

	// All engine mutations are single transactions on one connection;
	// sqlite serializes writers, so a single pooled connection keeps
	// "database is locked" churn out of the hot paths.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to execute base schema: %w", err)
	}

	if err := runMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	// Seed chat rooms if empty
	var roomCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM chat_rooms").Scan(&roomCount); err == nil && roomCount == 0 {
		for i, name := range []string{"yleinen", "aihevapaa"} {
			if _, err := db.Exec("INSERT INTO chat_rooms (name, sort_order) VALUES (?, ?)", name, i); err != nil {
				return nil, fmt.Errorf("failed to seed chat rooms: %w", err)
			}
		}
	}

	logger.Info("Database initialized.")

	return &Service{DB: db, logger: logger}, nil
}

// runMigrations applies all un-applied migrations.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at DATETIME NOT NULL)`); err != nil {
		return fmt.Errorf("could not create schema_migrations: %w", err)
	}

	var latestVersion uint
	err := db.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&latestVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("could not get db version: %w", err)
	}

	logger.Info("Current database schema version", "version", latestVersion)

	for _, m := range allMigrations {
		if m.Version > latestVersion {
			logger.Info("Applying migration", "version", m.Version)
			tx, err := db.Begin()
			if err != nil {
				return err
			}

			if _, err := tx.Exec(m.Query); err != nil {
				if rerr := tx.Rollback(); rerr != nil {
					logger.Error("Failed to rollback migration", "version", m.Version, "error", rerr)
				}
				return fmt.Errorf("failed to apply migration v%d: %w", m.Version, err)
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.Version, utils.GetSQLTime()); err != nil {
				if rerr := tx.Rollback(); rerr != nil {
					logger.Error("Failed to rollback migration record", "version", m.Version, "error", rerr)
				}
				return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
			}

			if err := tx.Commit(); err != nil {
				return fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
			}
			logger.Info("Successfully applied migration", "version", m.Version)
		}
	}
	return nil
}

// SeedRootUser creates or updates the root user from the startup
// password. Root always has the highest access level.
func (s *Service) SeedRootUser(password string) error {
	if password == "" {
		return fmt.Errorf("root password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash root password: %w", err)
	}

	res, err := s.DB.Exec("UPDATE users SET password_hash = ?, access_level = ? WHERE username = 'root'", string(hash), models.Root)
	if err != nil {
		return translateErr(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.DB.Exec("INSERT INTO users (access_level, username, password_hash, created_at) VALUES (?, 'root', ?, ?)",
		models.Root, string(hash), utils.GetSQLTime())
	return translateErr(err)
}

// --- Board Operations ---

// GetBoard fetches a board by handle.
func (s *Service) GetBoard(handle string) (*models.Board, error) {
	return scanBoard(s.DB.QueryRow(
		"SELECT id, handle, title, description, access_level, active_threads_limit, thread_size_limit, captcha, nsfw FROM boards WHERE handle = ?", handle))
}

// GetBoardByID fetches a board by primary key.
func (s *Service) GetBoardByID(id int64) (*models.Board, error) {
	return scanBoard(s.DB.QueryRow(
		"SELECT id, handle, title, description, access_level, active_threads_limit, thread_size_limit, captcha, nsfw FROM boards WHERE id = ?", id))
}

func scanBoard(row *sql.Row) (*models.Board, error) {
	var b models.Board
	err := row.Scan(&b.ID, &b.Handle, &b.Title, &b.Description, &b.AccessLevel,
		&b.ActiveThreadsLimit, &b.ThreadSizeLimit, &b.Captcha, &b.NSFW)
	if err != nil {
		return nil, translateErr(err)
	}
	return &b, nil
}

// ListBoards returns all boards visible at or below the given access level.
func (s *Service) ListBoards(maxAccess models.AccessLevel) ([]models.Board, error) {
	rows, err := s.DB.Query(
		"SELECT id, handle, title, description, access_level, active_threads_limit, thread_size_limit, captcha, nsfw FROM boards WHERE access_level <= ? ORDER BY handle", maxAccess)
	if err != nil {
		return nil, translateErr(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("Failed to close rows in ListBoards", "error", err)
		}
	}()

	var boards []models.Board
	for rows.Next() {
		var b models.Board
		if err := rows.Scan(&b.ID, &b.Handle, &b.Title, &b.Description, &b.AccessLevel,
			&b.ActiveThreadsLimit, &b.ThreadSizeLimit, &b.Captcha, &b.NSFW); err != nil {
			s.logger.Error("Failed to scan board row", "error", err)
			continue
		}
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return boards, nil
}

// CreateBoard inserts a new board. Admin+ only.
func (s *Service) CreateBoard(actor *models.UserData, b *models.Board) error {
	if actor.AccessLevel < models.Admin {
		return fmt.Errorf("%w: admin access required", models.ErrForbidden)
	}
	if b.Handle == "" || len(b.Handle) > 8 || !handleRe.MatchString(b.Handle) {
		return fmt.Errorf("%w: board handle must be 1-8 alphanumeric characters", models.ErrValidation)
	}
	if b.Title == "" {
		return fmt.Errorf("%w: board title must not be empty", models.ErrValidation)
	}
	res, err := s.DB.Exec(
		"INSERT INTO boards (handle, title, description, access_level, active_threads_limit, thread_size_limit, captcha, nsfw) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		b.Handle, b.Title, b.Description, b.AccessLevel, b.ActiveThreadsLimit, b.ThreadSizeLimit, b.Captcha, b.NSFW)
	if err != nil {
		return translateErr(err)
	}
	b.ID, _ = res.LastInsertId()
	s.logger.Info("Board created", "handle", b.Handle, "actor", actor.ID)
	return nil
}

// ListChatRooms returns the configured chat rooms in display order.
func (s *Service) ListChatRooms() ([]models.ChatRoom, error) {
	rows, err := s.DB.Query("SELECT id, name, sort_order FROM chat_rooms ORDER BY sort_order, name")
	if err != nil {
		return nil, translateErr(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("Failed to close rows in ListChatRooms", "error", err)
		}
	}()

	var rooms []models.ChatRoom
	for rows.Next() {
		var r models.ChatRoom
		if err := rows.Scan(&r.ID, &r.Name, &r.SortOrder); err != nil {
			s.logger.Error("Failed to scan chat room row", "error", err)
			continue
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return rooms, nil
}

// --- Error Translation ---

// translateErr maps driver errors onto the engine taxonomy so callers
// never branch on sqlite strings.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", models.ErrUnique, se)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", models.ErrForeignKey, se)
		}
	}
	return fmt.Errorf("%w: %v", models.ErrInfra, err)
}

// rollback is the shared deferred-rollback helper for engine transactions.
func (s *Service) rollback(tx *sql.Tx, op string) {
	if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
		s.logger.Error("Failed to rollback transaction", "op", op, "error", rerr)
	}
}
