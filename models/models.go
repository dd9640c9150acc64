// kapchan/models/models.go
package models

import (
	"database/sql"
	"io"
	"time"
)

// --- Access Levels ---

// AccessLevel is an integer rank controlling visibility and mutation
// rights; higher dominates.
type AccessLevel int

const (
	Anonymous     AccessLevel = 10
	Registered    AccessLevel = 20
	PendingMember AccessLevel = 30
	Member        AccessLevel = 40
	Moderator     AccessLevel = 90
	Admin         AccessLevel = 100
	Owner         AccessLevel = 200
	Root          AccessLevel = 255
)

// --- Core Data Models ---

type User struct {
	ID           int64
	AccessLevel  AccessLevel
	Username     sql.NullString
	Email        sql.NullString
	PasswordHash sql.NullString
	CreatedAt    time.Time
}

// UserData is the resolved identity attached to every request.
type UserData struct {
	ID          int64
	AccessLevel AccessLevel
	Username    sql.NullString
	IP          string
	UserAgent   string
	Banned      *Ban
}

// MayPost reports whether the user may mutate anything at all. Root
// overrides an active ban.
func (u *UserData) MayPost() bool {
	return u.Banned == nil || u.AccessLevel == Root
}

// MayRead reports whether the user clears a board's access gate.
func (u *UserData) MayRead(boardAccess AccessLevel) bool {
	return boardAccess <= u.AccessLevel
}

type Ban struct {
	ID          int64
	ModeratorID int64
	UserID      sql.NullInt64
	PostID      sql.NullInt64
	Reason      sql.NullString
	IPAddress   string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

type Board struct {
	ID                 int64
	Handle             string
	Title              string
	Description        string
	AccessLevel        AccessLevel
	ActiveThreadsLimit int
	ThreadSizeLimit    int
	Captcha            bool
	NSFW               bool
}

type Thread struct {
	ID       int64
	UserID   int64
	BoardID  int64
	Title    string
	Pinned   bool
	Locked   bool
	Archived bool
	BumpTime time.Time
}

type Post struct {
	ID           int64
	UserID       int64
	ThreadID     int64
	AccessLevel  AccessLevel
	ShowUsername bool
	Sage         bool
	Message      string
	MessageHash  string
	IPAddress    string
	CountryCode  sql.NullString
	ModNote      sql.NullString
	CreatedAt    time.Time

	// Populated by read snapshots
	Username   sql.NullString
	Attachment *Attachment
	ReplyIDs   []int64
}

// Attachment shares its primary key with the owning post.
type Attachment struct {
	ID                int64
	Width             int
	Height            int
	FileSizeBytes     int64
	FileName          string
	FileType          string
	FileLocation      string
	ThumbnailLocation string
}

type Application struct {
	ID         int64
	UserID     int64
	Accepted   bool
	Background string
	Motivation string
	Other      string
	CreatedAt  time.Time
	ClosedAt   sql.NullTime

	Username sql.NullString
}

type ApplicationReview struct {
	ID            int64
	ApplicationID int64
	ReviewerID    int64
	Accepted      bool
	CreatedAt     time.Time
}

type Captcha struct {
	ID      int64
	Answer  string
	Expires time.Time
}

type ChatRoom struct {
	ID        int64
	Name      string
	SortOrder int
}

type Report struct {
	ID        int64
	PostID    int64
	UserID    int64
	Reason    string
	CreatedAt time.Time
	Resolved  bool
}

// --- Read Snapshot Shapes ---

// CatalogThread is one card on the board index page.
type CatalogThread struct {
	ID      int64
	Title   string
	Pinned  bool
	Locked  bool
	Op      Post
	Replies int
}

// ThreadView is the full thread page assembly.
type ThreadView struct {
	Thread      Thread
	BoardHandle string
	BoardTitle  string
	Posts       []Post
}

// PostPreview is a row on the front page's latest-posts listing.
type PostPreview struct {
	PostID      int64
	ThreadID    int64
	BoardHandle string
	BoardName   string
	Message     string
}

// --- Storage ---

// StorageService abstracts where attachment files live. Locations are
// relative directories like "files/42" or "thumbnails/42".
type StorageService interface {
	Save(location, name string, data []byte, contentType string) error
	Remove(location, name string) error
	Open(location, name string) (io.ReadCloser, error)
}
