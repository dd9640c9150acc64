// kapchan/database/snapshots.go
//
// Read-side assemblies. Each snapshot runs in one transaction so the
// caller never observes a catalog or thread with interleaved writes.
package database

import (
	"database/sql"
	"fmt"
	"strings"

	"kapchan/models"
)

// Catalog returns the board index: every non-archived thread ordered by
// (pinned, bump_time) with its op post and reply count.
func (s *Service) Catalog(boardID int64) ([]models.CatalogThread, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return nil, translateErr(err)
	}
	defer s.rollback(tx, "Catalog")

	rows, err := tx.Query(`
		SELECT id, title, pinned, locked
		FROM threads
		WHERE board_id = ? AND archived = 0
		ORDER BY pinned DESC, bump_time DESC, id DESC`, boardID)
	if err != nil {
		return nil, translateErr(err)
	}

	var threads []models.CatalogThread
	order := make(map[int64]int)
	for rows.Next() {
		var t models.CatalogThread
		if err := rows.Scan(&t.ID, &t.Title, &t.Pinned, &t.Locked); err != nil {
			rows.Close()
			return nil, translateErr(err)
		}
		order[t.ID] = len(threads)
		threads = append(threads, t)
	}
	if err := rows.Close(); err != nil {
		return nil, translateErr(err)
	}
	if len(threads) == 0 {
		return threads, translateErr(tx.Commit())
	}

	posts, err := fetchPostsForThreads(tx, keysOf(order))
	if err != nil {
		return nil, err
	}

	counts := make(map[int64]int, len(threads))
	for i := range posts {
		p := posts[i]
		idx, ok := order[p.ThreadID]
		if !ok {
			continue
		}
		counts[p.ThreadID]++
		if counts[p.ThreadID] == 1 {
			// Posts arrive ordered by id, so the first one is the op.
			threads[idx].Op = p
		}
	}
	for i := range threads {
		n := counts[threads[i].ID]
		if n == 0 {
			// Every thread owns at least its op post.
			return nil, fmt.Errorf("%w: thread %d has no op post", models.ErrInfra, threads[i].ID)
		}
		threads[i].Replies = n - 1
	}

	return threads, translateErr(tx.Commit())
}

// Thread returns the full thread page: every post in id order with
// attachments and per-post reply-id lists.
func (s *Service) Thread(threadID int64) (*models.ThreadView, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return nil, translateErr(err)
	}
	defer s.rollback(tx, "Thread")

	var view models.ThreadView
	err = tx.QueryRow(`
		SELECT t.id, t.user_id, t.board_id, t.title, t.pinned, t.locked, t.archived, t.bump_time, b.handle, b.title
		FROM threads t JOIN boards b ON t.board_id = b.id
		WHERE t.id = ?`, threadID).
		Scan(&view.Thread.ID, &view.Thread.UserID, &view.Thread.BoardID, &view.Thread.Title,
			&view.Thread.Pinned, &view.Thread.Locked, &view.Thread.Archived, &view.Thread.BumpTime,
			&view.BoardHandle, &view.BoardTitle)
	if err != nil {
		return nil, translateErr(err)
	}

	posts, err := fetchPostsForThreads(tx, []int64{threadID})
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, fmt.Errorf("%w: thread %d has no op post", models.ErrInfra, threadID)
	}

	postIdx := make(map[int64]int, len(posts))
	ids := make([]int64, len(posts))
	for i := range posts {
		postIdx[posts[i].ID] = i
		ids[i] = posts[i].ID
	}

	replyRows, err := tx.Query(
		"SELECT post_id, reply_id FROM replies WHERE post_id IN (?"+strings.Repeat(",?", len(ids)-1)+") ORDER BY reply_id",
		asArgs(ids)...)
	if err != nil {
		return nil, translateErr(err)
	}
	for replyRows.Next() {
		var target, replier int64
		if err := replyRows.Scan(&target, &replier); err != nil {
			replyRows.Close()
			return nil, translateErr(err)
		}
		if i, ok := postIdx[target]; ok {
			posts[i].ReplyIDs = append(posts[i].ReplyIDs, replier)
		}
	}
	if err := replyRows.Close(); err != nil {
		return nil, translateErr(err)
	}

	view.Posts = posts
	return &view, translateErr(tx.Commit())
}

// LatestPreviews returns the newest posts visible at or below maxAccess,
// projected for the front page.
func (s *Service) LatestPreviews(maxAccess models.AccessLevel, limit int) ([]models.PostPreview, error) {
	rows, err := s.DB.Query(`
		SELECT p.id, p.thread_id, b.handle, b.title, p.message
		FROM posts p
		JOIN threads t ON p.thread_id = t.id
		JOIN boards b ON t.board_id = b.id
		WHERE p.access_level <= ?
		ORDER BY p.id DESC
		LIMIT ?`, maxAccess, limit)
	if err != nil {
		return nil, translateErr(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("Failed to close rows in LatestPreviews", "error", err)
		}
	}()

	var previews []models.PostPreview
	for rows.Next() {
		var p models.PostPreview
		if err := rows.Scan(&p.PostID, &p.ThreadID, &p.BoardHandle, &p.BoardName, &p.Message); err != nil {
			s.logger.Error("Failed to scan preview row", "error", err)
			continue
		}
		previews = append(previews, p)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return previews, nil
}

// GetPost loads one post with its username and attachment.
func (s *Service) GetPost(postID int64) (*models.Post, error) {
	var p models.Post
	var attID sql.NullInt64
	var width, height, size sql.NullInt64
	var fileName, fileType, fileLoc, thumbLoc sql.NullString
	err := s.DB.QueryRow(`
		SELECT p.id, p.user_id, p.thread_id, p.access_level, p.show_username, p.sage,
		       p.message, p.message_hash, p.ip_address, p.country_code, p.mod_note, p.created_at,
		       u.username,
		       a.id, a.width, a.height, a.file_size_bytes, a.file_name, a.file_type, a.file_location, a.thumbnail_location
		FROM posts p
		JOIN users u ON p.user_id = u.id
		LEFT JOIN attachments a ON a.id = p.id
		WHERE p.id = ?`, postID).
		Scan(&p.ID, &p.UserID, &p.ThreadID, &p.AccessLevel, &p.ShowUsername, &p.Sage,
			&p.Message, &p.MessageHash, &p.IPAddress, &p.CountryCode, &p.ModNote, &p.CreatedAt,
			&p.Username,
			&attID, &width, &height, &size, &fileName, &fileType, &fileLoc, &thumbLoc)
	if err != nil {
		return nil, translateErr(err)
	}
	if attID.Valid {
		p.Attachment = &models.Attachment{
			ID:                attID.Int64,
			Width:             int(width.Int64),
			Height:            int(height.Int64),
			FileSizeBytes:     size.Int64,
			FileName:          fileName.String,
			FileType:          fileType.String,
			FileLocation:      fileLoc.String,
			ThumbnailLocation: thumbLoc.String,
		}
	}
	return &p, nil
}

// fetchPostsForThreads loads every post of the given threads, left
// joined with attachments and usernames, ordered by post id.
func fetchPostsForThreads(tx *sql.Tx, threadIDs []int64) ([]models.Post, error) {
	if len(threadIDs) == 0 {
		return nil, nil
	}
	rows, err := tx.Query(`
		SELECT p.id, p.user_id, p.thread_id, p.access_level, p.show_username, p.sage,
		       p.message, p.message_hash, p.ip_address, p.country_code, p.mod_note, p.created_at,
		       u.username,
		       a.id, a.width, a.height, a.file_size_bytes, a.file_name, a.file_type, a.file_location, a.thumbnail_location
		FROM posts p
		JOIN users u ON p.user_id = u.id
		LEFT JOIN attachments a ON a.id = p.id
		WHERE p.thread_id IN (?`+strings.Repeat(",?", len(threadIDs)-1)+`)
		ORDER BY p.id ASC`, asArgs(threadIDs)...)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		var p models.Post
		var attID sql.NullInt64
		var width, height, size sql.NullInt64
		var fileName, fileType, fileLoc, thumbLoc sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &p.ThreadID, &p.AccessLevel, &p.ShowUsername, &p.Sage,
			&p.Message, &p.MessageHash, &p.IPAddress, &p.CountryCode, &p.ModNote, &p.CreatedAt,
			&p.Username,
			&attID, &width, &height, &size, &fileName, &fileType, &fileLoc, &thumbLoc); err != nil {
			return nil, translateErr(err)
		}
		if attID.Valid {
			p.Attachment = &models.Attachment{
				ID:                attID.Int64,
				Width:             int(width.Int64),
				Height:            int(height.Int64),
				FileSizeBytes:     size.Int64,
				FileName:          fileName.String,
				FileType:          fileType.String,
				FileLocation:      fileLoc.String,
				ThumbnailLocation: thumbLoc.String,
			}
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return posts, nil
}

func keysOf(m map[int64]int) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func asArgs(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
