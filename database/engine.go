// kapchan/database/engine.go
//
// The thread/post engine: every mutation of the board/thread/post tree
// runs here as a single transaction, so readers always observe a
// consistent catalog window.
package database

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"kapchan/config"
	"kapchan/models"
	"kapchan/utils"
)

var backlinkRe = regexp.MustCompile(`>>(\d+)`)

// ParseBacklinks extracts every distinct >>N reference from a message.
// A run of more than ten digits is no post id; truncating it would
// point at an unrelated post, so the whole reference is ignored.
func ParseBacklinks(message string) []int64 {
	matches := backlinkRe.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[int64]bool, len(matches))
	var ids []int64
	for _, m := range matches {
		if len(m[1]) > 10 {
			continue
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// HashMessage returns the upper-case SHA-256 hex digest of a message.
func HashMessage(message string) string {
	sum := sha256.Sum256([]byte(message))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// CreateThread inserts a new thread with its op post and rebalances the
// board's active window in the same transaction.
func (s *Service) CreateThread(user *models.UserData, board *models.Board, title, message string) (*models.Thread, *models.Post, error) {
	// Fast-fail checks before touching the transaction.
	if strings.TrimSpace(message) == "" {
		return nil, nil, fmt.Errorf("%w: message must not be empty", models.ErrValidation)
	}
	if len(message) > config.MaxThreadMsgLen {
		return nil, nil, fmt.Errorf("%w: message exceeds %d characters", models.ErrValidation, config.MaxThreadMsgLen)
	}
	if len(title) > config.MaxTitleLen {
		return nil, nil, fmt.Errorf("%w: title exceeds %d characters", models.ErrValidation, config.MaxTitleLen)
	}
	if !user.MayPost() {
		return nil, nil, fmt.Errorf("%w: you are banned", models.ErrForbidden)
	}
	if !user.MayRead(board.AccessLevel) {
		return nil, nil, fmt.Errorf("%w: board requires access level %d", models.ErrForbidden, board.AccessLevel)
	}

	replyIDs := ParseBacklinks(message)
	messageHash := HashMessage(message)
	now := utils.GetSQLTime()

	tx, err := s.DB.Begin()
	if err != nil {
		return nil, nil, translateErr(err)
	}
	defer s.rollback(tx, "CreateThread")

	res, err := tx.Exec(
		"INSERT INTO threads (user_id, board_id, title, pinned, locked, archived, bump_time) VALUES (?, ?, ?, 0, 0, 0, ?)",
		user.ID, board.ID, title, now)
	if err != nil {
		return nil, nil, translateErr(err)
	}
	threadID, _ := res.LastInsertId()

	post, err := insertPost(tx, user, threadID, board.AccessLevel, message, messageHash, false, false, now)
	if err != nil {
		return nil, nil, err
	}
	if err := insertReplyEdges(tx, post.ID, replyIDs); err != nil {
		return nil, nil, err
	}

	// Active-thread quota: the same transaction that inserted the new
	// thread demotes whichever non-pinned thread fell past the window.
	if err := archiveOverflow(tx, board); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, translateErr(err)
	}

	thread := &models.Thread{
		ID: threadID, UserID: user.ID, BoardID: board.ID,
		Title: title, BumpTime: now,
	}
	s.logger.Info("Thread created", "thread_id", threadID, "board", board.Handle, "user", user.ID)
	return thread, post, nil
}

// CreateReply appends a post to an existing thread, bumping it unless
// the reply is saged.
func (s *Service) CreateReply(user *models.UserData, threadID int64, message string, sage, showUsername bool) (*models.Post, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message must not be empty", models.ErrValidation)
	}
	if len(message) > config.MaxReplyMsgLen {
		return nil, fmt.Errorf("%w: message exceeds %d characters", models.ErrValidation, config.MaxReplyMsgLen)
	}
	if !user.MayPost() {
		return nil, fmt.Errorf("%w: you are banned", models.ErrForbidden)
	}

	// Thread and board state in one query.
	var (
		boardAccess     models.AccessLevel
		threadSizeLimit int
		archived        bool
		locked          bool
	)
	err := s.DB.QueryRow(`
		SELECT b.access_level, b.thread_size_limit, t.archived, t.locked
		FROM threads t JOIN boards b ON t.board_id = b.id
		WHERE t.id = ?`, threadID).
		Scan(&boardAccess, &threadSizeLimit, &archived, &locked)
	if err != nil {
		return nil, translateErr(err)
	}
	if !user.MayRead(boardAccess) {
		return nil, fmt.Errorf("%w: board requires access level %d", models.ErrForbidden, boardAccess)
	}
	if archived {
		return nil, fmt.Errorf("%w: thread archived", models.ErrForbidden)
	}
	if locked {
		return nil, fmt.Errorf("%w: thread locked", models.ErrForbidden)
	}
	var count int
	if err := s.DB.QueryRow("SELECT COUNT(*) FROM posts WHERE thread_id = ?", threadID).Scan(&count); err != nil {
		return nil, translateErr(err)
	}
	// The op counts toward the limit.
	if count >= threadSizeLimit+1 {
		return nil, fmt.Errorf("%w: thread is full", models.ErrForbidden)
	}

	replyIDs := ParseBacklinks(message)
	messageHash := HashMessage(message)
	now := utils.GetSQLTime()

	tx, err := s.DB.Begin()
	if err != nil {
		return nil, translateErr(err)
	}
	defer s.rollback(tx, "CreateReply")

	post, err := insertPost(tx, user, threadID, boardAccess, message, messageHash, sage, showUsername, now)
	if err != nil {
		return nil, err
	}
	if err := insertReplyEdges(tx, post.ID, replyIDs); err != nil {
		return nil, err
	}
	if !sage {
		if _, err := tx.Exec("UPDATE threads SET bump_time = ? WHERE id = ?", now, threadID); err != nil {
			return nil, translateErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, translateErr(err)
	}
	s.logger.Info("Reply created", "post_id", post.ID, "thread_id", threadID, "user", user.ID, "sage", sage)
	return post, nil
}

func insertPost(tx *sql.Tx, user *models.UserData, threadID int64, access models.AccessLevel, message, messageHash string, sage, showUsername bool, now time.Time) (*models.Post, error) {
	res, err := tx.Exec(`
		INSERT INTO posts (user_id, thread_id, access_level, show_username, sage, message, message_hash, ip_address, country_code, mod_note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?)`,
		user.ID, threadID, access, showUsername, sage, message, messageHash, user.IP, now)
	if err != nil {
		return nil, translateErr(err)
	}
	id, _ := res.LastInsertId()
	return &models.Post{
		ID: id, UserID: user.ID, ThreadID: threadID, AccessLevel: access,
		ShowUsername: showUsername, Sage: sage, Message: message,
		MessageHash: messageHash, IPAddress: user.IP, CreatedAt: now,
	}, nil
}

// insertReplyEdges materializes >>N backlinks as (target, replier)
// rows. Targets that do not exist are silently skipped.
func insertReplyEdges(tx *sql.Tx, newPostID int64, targets []int64) error {
	for _, target := range targets {
		if target == newPostID {
			continue
		}
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO replies (post_id, reply_id) SELECT id, ? FROM posts WHERE id = ?",
			newPostID, target); err != nil {
			return translateErr(err)
		}
	}
	return nil
}

// archiveOverflow demotes the thread that fell past the board's active
// window, if any. Pinned threads sort first, so only non-pinned rows can
// fall past the offset.
func archiveOverflow(tx *sql.Tx, board *models.Board) error {
	var victim int64
	err := tx.QueryRow(`
		SELECT id FROM threads
		WHERE board_id = ? AND archived = 0
		ORDER BY pinned DESC, bump_time DESC, id DESC
		LIMIT 1 OFFSET ?`, board.ID, board.ActiveThreadsLimit).Scan(&victim)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return translateErr(err)
	}
	if _, err := tx.Exec("UPDATE threads SET archived = 1 WHERE id = ?", victim); err != nil {
		return translateErr(err)
	}
	return nil
}

// --- Deletion ---

// DeletePost removes a single reply. The op post is never deletable
// through this path; delete the thread instead. Attachment files are
// removed best effort before the row goes.
func (s *Service) DeletePost(actor *models.UserData, postID int64, store models.StorageService) error {
	var (
		authorID int64
		threadID int64
		opID     int64
	)
	err := s.DB.QueryRow(`
		SELECT p.user_id, p.thread_id, (SELECT MIN(id) FROM posts WHERE thread_id = p.thread_id)
		FROM posts p WHERE p.id = ?`, postID).
		Scan(&authorID, &threadID, &opID)
	if err != nil {
		return translateErr(err)
	}
	if postID == opID {
		return fmt.Errorf("%w: the op post cannot be deleted, delete the thread", models.ErrForbidden)
	}
	if actor.ID != authorID && actor.AccessLevel < models.Moderator {
		return fmt.Errorf("%w: only the author or a moderator may delete a post", models.ErrForbidden)
	}

	s.removeAttachmentFiles(store, "p.id = ?", postID)

	tx, err := s.DB.Begin()
	if err != nil {
		return translateErr(err)
	}
	defer s.rollback(tx, "DeletePost")

	if _, err := tx.Exec("DELETE FROM posts WHERE id = ?", postID); err != nil {
		return translateErr(err)
	}
	if err := tx.Commit(); err != nil {
		return translateErr(err)
	}
	s.logger.Info("Post deleted", "post_id", postID, "actor", actor.ID)
	return nil
}

// DeleteThread removes a thread and everything under it.
func (s *Service) DeleteThread(actor *models.UserData, threadID int64, store models.StorageService) error {
	var authorID int64
	if err := s.DB.QueryRow("SELECT user_id FROM threads WHERE id = ?", threadID).Scan(&authorID); err != nil {
		return translateErr(err)
	}
	if actor.ID != authorID && actor.AccessLevel < models.Moderator {
		return fmt.Errorf("%w: only the author or a moderator may delete a thread", models.ErrForbidden)
	}

	s.removeAttachmentFiles(store, "p.thread_id = ?", threadID)

	tx, err := s.DB.Begin()
	if err != nil {
		return translateErr(err)
	}
	defer s.rollback(tx, "DeleteThread")

	if _, err := tx.Exec("DELETE FROM threads WHERE id = ?", threadID); err != nil {
		return translateErr(err)
	}
	if err := tx.Commit(); err != nil {
		return translateErr(err)
	}
	s.logger.Info("Thread deleted", "thread_id", threadID, "actor", actor.ID)
	return nil
}

// DeleteBoard removes a board, its threads, posts, and files. Admin+ only.
func (s *Service) DeleteBoard(actor *models.UserData, boardID int64, store models.StorageService) error {
	if actor.AccessLevel < models.Admin {
		return fmt.Errorf("%w: admin access required", models.ErrForbidden)
	}

	s.removeAttachmentFiles(store,
		"p.thread_id IN (SELECT id FROM threads WHERE board_id = ?)", boardID)

	tx, err := s.DB.Begin()
	if err != nil {
		return translateErr(err)
	}
	defer s.rollback(tx, "DeleteBoard")

	res, err := tx.Exec("DELETE FROM boards WHERE id = ?", boardID)
	if err != nil {
		return translateErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return translateErr(err)
	}
	s.logger.Info("Board deleted", "board_id", boardID, "actor", actor.ID)
	return nil
}

// removeAttachmentFiles deletes the files of every attachment whose
// post matches the filter. Failures are logged and never abort the
// caller; the database is the source of truth.
func (s *Service) removeAttachmentFiles(store models.StorageService, postFilter string, args ...interface{}) {
	if store == nil {
		return
	}
	rows, err := s.DB.Query(`
		SELECT a.file_location, a.thumbnail_location, a.file_name
		FROM attachments a JOIN posts p ON a.id = p.id
		WHERE `+postFilter, args...)
	if err != nil {
		s.logger.Error("Failed to query attachments for cleanup", "error", err)
		return
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("Failed to close rows in removeAttachmentFiles", "error", err)
		}
	}()

	for rows.Next() {
		var fileLoc, thumbLoc, name string
		if err := rows.Scan(&fileLoc, &thumbLoc, &name); err != nil {
			s.logger.Error("Failed to scan attachment row for cleanup", "error", err)
			continue
		}
		if err := store.Remove(fileLoc, name); err != nil {
			s.logger.Warn("Failed to remove attachment file", "location", fileLoc, "name", name, "error", err)
		}
		if err := store.Remove(thumbLoc, name); err != nil {
			s.logger.Warn("Failed to remove thumbnail file", "location", thumbLoc, "name", name, "error", err)
		}
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("Row error during attachment cleanup", "error", err)
	}
}

// --- Moderation toggles ---

// PinThread sets or clears the pinned flag. Moderator+ only.
func (s *Service) PinThread(actor *models.UserData, threadID int64, pinned bool) error {
	return s.setThreadFlag(actor, threadID, "pinned", pinned)
}

// LockThread sets or clears the locked flag. Moderator+ only.
func (s *Service) LockThread(actor *models.UserData, threadID int64, locked bool) error {
	return s.setThreadFlag(actor, threadID, "locked", locked)
}

func (s *Service) setThreadFlag(actor *models.UserData, threadID int64, column string, value bool) error {
	if actor.AccessLevel < models.Moderator {
		return fmt.Errorf("%w: moderator access required", models.ErrForbidden)
	}
	res, err := s.DB.Exec("UPDATE threads SET "+column+" = ? WHERE id = ?", value, threadID)
	if err != nil {
		return translateErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	s.logger.Info("Thread flag updated", "thread_id", threadID, "flag", column, "value", value, "actor", actor.ID)
	return nil
}

// BumpThread manually advances a thread's bump time. Moderator+ only.
func (s *Service) BumpThread(actor *models.UserData, threadID int64) error {
	if actor.AccessLevel < models.Moderator {
		return fmt.Errorf("%w: moderator access required", models.ErrForbidden)
	}
	res, err := s.DB.Exec("UPDATE threads SET bump_time = ? WHERE id = ?", utils.GetSQLTime(), threadID)
	if err != nil {
		return translateErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// --- Attachment bookkeeping ---

// InsertAttachment writes the attachments row for a freshly ingested
// file. The row is written before the file lands on disk, so a crash
// leaves a repairable orphan row, never an unserveable orphan file.
func (s *Service) InsertAttachment(att *models.Attachment) error {
	_, err := s.DB.Exec(`
		INSERT INTO attachments (id, width, height, file_size_bytes, file_name, file_type, file_location, thumbnail_location)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		att.ID, att.Width, att.Height, att.FileSizeBytes, att.FileName, att.FileType, att.FileLocation, att.ThumbnailLocation)
	return translateErr(err)
}

// DeleteAttachmentRow removes an attachments row during pipeline rollback.
func (s *Service) DeleteAttachmentRow(postID int64) error {
	_, err := s.DB.Exec("DELETE FROM attachments WHERE id = ?", postID)
	return translateErr(err)
}

// GetAttachment loads an attachment together with its post's access
// level, for the file-serving gate.
func (s *Service) GetAttachment(postID int64) (*models.Attachment, models.AccessLevel, error) {
	var att models.Attachment
	var access models.AccessLevel
	err := s.DB.QueryRow(`
		SELECT a.id, a.width, a.height, a.file_size_bytes, a.file_name, a.file_type, a.file_location, a.thumbnail_location, p.access_level
		FROM attachments a JOIN posts p ON a.id = p.id
		WHERE a.id = ?`, postID).
		Scan(&att.ID, &att.Width, &att.Height, &att.FileSizeBytes, &att.FileName, &att.FileType, &att.FileLocation, &att.ThumbnailLocation, &access)
	if err != nil {
		return nil, 0, translateErr(err)
	}
	return &att, access, nil
}

// RemovePost deletes a post row outright. Compensation path for a
// failed attachment ingest on a reply.
func (s *Service) RemovePost(postID int64) error {
	_, err := s.DB.Exec("DELETE FROM posts WHERE id = ?", postID)
	return translateErr(err)
}

// RemoveThread deletes a thread row outright, cascading its posts.
// Compensation path for a failed attachment ingest on a new thread.
func (s *Service) RemoveThread(threadID int64) error {
	_, err := s.DB.Exec("DELETE FROM threads WHERE id = ?", threadID)
	return translateErr(err)
}
