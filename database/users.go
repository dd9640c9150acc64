// kapchan/database/users.go
package database

import (
	"database/sql"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"kapchan/models"
	"kapchan/utils"
)

// GetUser fetches a user row by id.
func (s *Service) GetUser(id int64) (*models.User, error) {
	var u models.User
	err := s.DB.QueryRow(
		"SELECT id, access_level, username, email, password_hash, created_at FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.AccessLevel, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &u, nil
}

// CreateAnonymousUser inserts a fresh anonymous user row in a single
// transaction and returns it. Called on first visit, before the session
// cookie is bound.
func (s *Service) CreateAnonymousUser() (*models.User, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return nil, translateErr(err)
	}
	defer s.rollback(tx, "CreateAnonymousUser")

	now := utils.GetSQLTime()
	res, err := tx.Exec("INSERT INTO users (access_level, created_at) VALUES (?, ?)", models.Anonymous, now)
	if err != nil {
		return nil, translateErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, translateErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, translateErr(err)
	}
	return &models.User{ID: id, AccessLevel: models.Anonymous, CreatedAt: now}, nil
}

// ActiveBan returns the most durable active ban matching the user id or
// the client IP: the row with the greatest expires_at still in the
// future wins. Returns (nil, nil) when the user is clean.
func (s *Service) ActiveBan(userID int64, ip string) (*models.Ban, error) {
	var b models.Ban
	err := s.DB.QueryRow(`
		SELECT id, moderator_id, user_id, post_id, reason, ip_address, expires_at, created_at
		FROM bans
		WHERE expires_at > ? AND (user_id = ? OR ip_address = ?)
		ORDER BY expires_at DESC LIMIT 1`,
		utils.GetSQLTime(), userID, ip).
		Scan(&b.ID, &b.ModeratorID, &b.UserID, &b.PostID, &b.Reason, &b.IPAddress, &b.ExpiresAt, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &b, nil
}

// CreateBan inserts a ban record. Moderator+ only; at least one of user
// id or ip must name a subject.
func (s *Service) CreateBan(actor *models.UserData, b *models.Ban) error {
	if actor.AccessLevel < models.Moderator {
		return fmt.Errorf("%w: moderator access required", models.ErrForbidden)
	}
	if !b.UserID.Valid && b.IPAddress == "" {
		return fmt.Errorf("%w: ban needs a user or an ip address", models.ErrValidation)
	}
	now := utils.GetSQLTime()
	if !b.ExpiresAt.After(now) {
		return fmt.Errorf("%w: ban expiry must be in the future", models.ErrValidation)
	}
	res, err := s.DB.Exec(
		"INSERT INTO bans (moderator_id, user_id, post_id, reason, ip_address, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		actor.ID, b.UserID, b.PostID, b.Reason, b.IPAddress, b.ExpiresAt, now)
	if err != nil {
		return translateErr(err)
	}
	b.ID, _ = res.LastInsertId()
	b.ModeratorID = actor.ID
	b.CreatedAt = now
	s.logger.Info("Ban created", "ban_id", b.ID, "moderator", actor.ID)
	return nil
}

// RegisterUser upgrades the current anonymous user with credentials.
// Usernames and emails are unique; collisions surface as ErrUnique.
func (s *Service) RegisterUser(userID int64, username, email, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", models.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInfra, err)
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return translateErr(err)
	}
	defer s.rollback(tx, "RegisterUser")

	var level models.AccessLevel
	if err := tx.QueryRow("SELECT access_level FROM users WHERE id = ?", userID).Scan(&level); err != nil {
		return translateErr(err)
	}
	if level != models.Anonymous {
		return fmt.Errorf("%w: already registered", models.ErrForbidden)
	}

	var emailVal sql.NullString
	if email != "" {
		emailVal = sql.NullString{String: email, Valid: true}
	}
	if _, err := tx.Exec(
		"UPDATE users SET username = ?, email = ?, password_hash = ?, access_level = ? WHERE id = ?",
		username, emailVal, string(hash), models.Registered, userID); err != nil {
		return translateErr(err)
	}
	return translateErr(tx.Commit())
}

// AuthenticateUser checks credentials and returns the matching user.
func (s *Service) AuthenticateUser(username, password string) (*models.User, error) {
	var u models.User
	err := s.DB.QueryRow(
		"SELECT id, access_level, username, email, password_hash, created_at FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.AccessLevel, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	if !u.PasswordHash.Valid {
		return nil, models.ErrForbidden
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash.String), []byte(password)) != nil {
		return nil, models.ErrForbidden
	}
	return &u, nil
}

// --- Membership Applications ---

// CreateApplication submits a membership application and moves the
// applicant to PendingMember. The partial unique index on open
// applications enforces one open application per user.
func (s *Service) CreateApplication(user *models.UserData, background, motivation, other string) (*models.Application, error) {
	if user.AccessLevel < models.Registered {
		return nil, fmt.Errorf("%w: registration required before applying", models.ErrForbidden)
	}
	if motivation == "" {
		return nil, fmt.Errorf("%w: motivation must not be empty", models.ErrValidation)
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return nil, translateErr(err)
	}
	defer s.rollback(tx, "CreateApplication")

	now := utils.GetSQLTime()
	res, err := tx.Exec(
		"INSERT INTO applications (user_id, background, motivation, other, created_at) VALUES (?, ?, ?, ?, ?)",
		user.ID, background, motivation, other, now)
	if err != nil {
		return nil, translateErr(err)
	}
	id, _ := res.LastInsertId()

	if user.AccessLevel == models.Registered {
		if _, err := tx.Exec("UPDATE users SET access_level = ? WHERE id = ?", models.PendingMember, user.ID); err != nil {
			return nil, translateErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, translateErr(err)
	}

	return &models.Application{
		ID: id, UserID: user.ID, Background: background,
		Motivation: motivation, Other: other, CreatedAt: now,
	}, nil
}

// ListOpenApplications returns a page of open applications, oldest first.
func (s *Service) ListOpenApplications(page, pageSize int) ([]models.Application, error) {
	if page < 1 {
		page = 1
	}
	rows, err := s.DB.Query(`
		SELECT a.id, a.user_id, a.accepted, a.background, a.motivation, a.other, a.created_at, a.closed_at, u.username
		FROM applications a JOIN users u ON a.user_id = u.id
		WHERE a.closed_at IS NULL
		ORDER BY a.created_at ASC
		LIMIT ? OFFSET ?`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, translateErr(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("Failed to close rows in ListOpenApplications", "error", err)
		}
	}()

	var apps []models.Application
	for rows.Next() {
		var a models.Application
		if err := rows.Scan(&a.ID, &a.UserID, &a.Accepted, &a.Background, &a.Motivation, &a.Other, &a.CreatedAt, &a.ClosedAt, &a.Username); err != nil {
			s.logger.Error("Failed to scan application row", "error", err)
			continue
		}
		apps = append(apps, a)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return apps, nil
}

// ReviewApplication closes an open application and adjusts the
// applicant's access level: Member on accept, back to Registered on deny.
func (s *Service) ReviewApplication(actor *models.UserData, applicationID int64, accepted bool) error {
	if actor.AccessLevel < models.Admin {
		return fmt.Errorf("%w: admin access required", models.ErrForbidden)
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return translateErr(err)
	}
	defer s.rollback(tx, "ReviewApplication")

	var applicantID int64
	var closedAt sql.NullTime
	if err := tx.QueryRow("SELECT user_id, closed_at FROM applications WHERE id = ?", applicationID).
		Scan(&applicantID, &closedAt); err != nil {
		return translateErr(err)
	}
	if closedAt.Valid {
		return fmt.Errorf("%w: application already closed", models.ErrForbidden)
	}

	now := utils.GetSQLTime()
	if _, err := tx.Exec("UPDATE applications SET accepted = ?, closed_at = ? WHERE id = ?", accepted, now, applicationID); err != nil {
		return translateErr(err)
	}
	if _, err := tx.Exec(
		"INSERT INTO application_reviews (application_id, reviewer_id, accepted, created_at) VALUES (?, ?, ?, ?)",
		applicationID, actor.ID, accepted, now); err != nil {
		return translateErr(err)
	}

	newLevel := models.Registered
	if accepted {
		newLevel = models.Member
	}
	// Never demote moderators or above through the review path.
	if _, err := tx.Exec("UPDATE users SET access_level = ? WHERE id = ? AND access_level < ?", newLevel, applicantID, models.Moderator); err != nil {
		return translateErr(err)
	}

	if err := tx.Commit(); err != nil {
		return translateErr(err)
	}
	s.logger.Info("Application reviewed", "application_id", applicationID, "accepted", accepted, "reviewer", actor.ID)
	return nil
}

// --- Reports ---

// CreateReport files a report against a post. Banned users may not report.
func (s *Service) CreateReport(user *models.UserData, postID int64, reason string) error {
	if !user.MayPost() {
		return fmt.Errorf("%w: banned users cannot submit reports", models.ErrForbidden)
	}
	if reason == "" {
		return fmt.Errorf("%w: report reason must not be empty", models.ErrValidation)
	}
	_, err := s.DB.Exec(
		"INSERT INTO reports (post_id, user_id, reason, created_at) VALUES (?, ?, ?, ?)",
		postID, user.ID, reason, utils.GetSQLTime())
	return translateErr(err)
}

// ListOpenReports returns unresolved reports, newest first.
func (s *Service) ListOpenReports(limit int) ([]models.Report, error) {
	rows, err := s.DB.Query(
		"SELECT id, post_id, user_id, reason, created_at, resolved FROM reports WHERE resolved = 0 ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, translateErr(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("Failed to close rows in ListOpenReports", "error", err)
		}
	}()

	var reports []models.Report
	for rows.Next() {
		var r models.Report
		if err := rows.Scan(&r.ID, &r.PostID, &r.UserID, &r.Reason, &r.CreatedAt, &r.Resolved); err != nil {
			s.logger.Error("Failed to scan report row", "error", err)
			continue
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return reports, nil
}

// ResolveReport marks a report handled. Moderator+ only.
func (s *Service) ResolveReport(actor *models.UserData, reportID int64) error {
	if actor.AccessLevel < models.Moderator {
		return fmt.Errorf("%w: moderator access required", models.ErrForbidden)
	}
	res, err := s.DB.Exec("UPDATE reports SET resolved = 1 WHERE id = ?", reportID)
	if err != nil {
		return translateErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}
