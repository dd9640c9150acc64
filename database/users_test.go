// kapchan/database/users_test.go
package database

import (
	"errors"
	"testing"

	"kapchan/models"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	s := setupTestDB(t)
	user := testUser(t, s, models.Anonymous)

	if err := s.RegisterUser(user.ID, "", "", "pw"); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("empty username should be a validation error, got %v", err)
	}
	if err := s.RegisterUser(user.ID, "alice", "a@example.com", "secret123"); err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}

	got, err := s.GetUser(user.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.AccessLevel != models.Registered || got.Username.String != "alice" {
		t.Fatalf("registration did not upgrade the user: %+v", got)
	}

	// Registering twice is forbidden.
	if err := s.RegisterUser(user.ID, "alice2", "", "secret123"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("double registration should be forbidden, got %v", err)
	}

	// Username collisions surface as unique violations.
	other := testUser(t, s, models.Anonymous)
	if err := s.RegisterUser(other.ID, "alice", "", "secret123"); !errors.Is(err, models.ErrUnique) {
		t.Fatalf("duplicate username should be a unique violation, got %v", err)
	}

	if _, err := s.AuthenticateUser("alice", "wrong"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("wrong password should be forbidden, got %v", err)
	}
	auth, err := s.AuthenticateUser("alice", "secret123")
	if err != nil {
		t.Fatalf("AuthenticateUser failed: %v", err)
	}
	if auth.ID != user.ID {
		t.Fatalf("authenticated the wrong user: %d", auth.ID)
	}
}

func TestApplicationLifecycle(t *testing.T) {
	s := setupTestDB(t)
	admin := testUser(t, s, models.Admin)

	anon := testUser(t, s, models.Anonymous)
	if _, err := s.CreateApplication(anon, "", "let me in", ""); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("anonymous application should be forbidden, got %v", err)
	}

	applicant := testUser(t, s, models.Registered)
	app, err := s.CreateApplication(applicant, "bg", "motivation", "")
	if err != nil {
		t.Fatalf("CreateApplication failed: %v", err)
	}

	got, err := s.GetUser(applicant.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.AccessLevel != models.PendingMember {
		t.Fatalf("applicant should be pending, got %d", got.AccessLevel)
	}

	// One open application per user.
	applicant.AccessLevel = models.PendingMember
	if _, err := s.CreateApplication(applicant, "", "again", ""); !errors.Is(err, models.ErrUnique) {
		t.Fatalf("second open application should be a unique violation, got %v", err)
	}

	open, err := s.ListOpenApplications(1, 20)
	if err != nil {
		t.Fatalf("ListOpenApplications failed: %v", err)
	}
	if len(open) != 1 || open[0].ID != app.ID {
		t.Fatalf("unexpected open applications: %+v", open)
	}

	if err := s.ReviewApplication(applicant, app.ID, true); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("non-admin review should be forbidden, got %v", err)
	}
	if err := s.ReviewApplication(admin, app.ID, true); err != nil {
		t.Fatalf("ReviewApplication failed: %v", err)
	}
	if err := s.ReviewApplication(admin, app.ID, true); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("re-review of a closed application should be forbidden, got %v", err)
	}

	got, err = s.GetUser(applicant.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.AccessLevel != models.Member {
		t.Fatalf("accepted applicant should be a member, got %d", got.AccessLevel)
	}

	// A denied application drops the applicant back to registered.
	applicant2 := testUser(t, s, models.Registered)
	app2, err := s.CreateApplication(applicant2, "", "motivation", "")
	if err != nil {
		t.Fatalf("CreateApplication failed: %v", err)
	}
	if err := s.ReviewApplication(admin, app2.ID, false); err != nil {
		t.Fatalf("ReviewApplication failed: %v", err)
	}
	got, err = s.GetUser(applicant2.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.AccessLevel != models.Registered {
		t.Fatalf("denied applicant should be registered, got %d", got.AccessLevel)
	}
}

func TestReportLifecycle(t *testing.T) {
	s := setupTestDB(t)
	board := testBoard(t, s, "b", nil)
	user := testUser(t, s, models.Anonymous)
	mod := testUser(t, s, models.Moderator)

	_, op, err := s.CreateThread(user, board, "t", "op")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	if err := s.CreateReport(user, op.ID, ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("empty reason should be a validation error, got %v", err)
	}
	if err := s.CreateReport(user, op.ID, "spam"); err != nil {
		t.Fatalf("CreateReport failed: %v", err)
	}
	// Reports against missing posts bounce off the foreign key.
	if err := s.CreateReport(user, 999999, "spam"); !errors.Is(err, models.ErrForeignKey) {
		t.Fatalf("report on a missing post should be a foreign key violation, got %v", err)
	}

	open, err := s.ListOpenReports(10)
	if err != nil {
		t.Fatalf("ListOpenReports failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one open report, got %d", len(open))
	}

	if err := s.ResolveReport(user, open[0].ID); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("non-moderator resolve should be forbidden, got %v", err)
	}
	if err := s.ResolveReport(mod, open[0].ID); err != nil {
		t.Fatalf("ResolveReport failed: %v", err)
	}

	open, err = s.ListOpenReports(10)
	if err != nil {
		t.Fatalf("ListOpenReports failed: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("resolved report should drop off the list, got %d", len(open))
	}
}
