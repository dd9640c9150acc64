// kapchan/handlers/admin.go
//
// Admin and moderator surfaces. Error strings here stay in English.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"kapchan/config"
	"kapchan/models"
	"kapchan/utils"
)

// HandleAdminPage renders the moderation dashboard.
func HandleAdminPage(w http.ResponseWriter, r *http.Request, app App) {
	user := userData(r)
	boards, err := app.DB().ListBoards(user.AccessLevel)
	if err != nil {
		respondEngineError(w, err, false, app)
		return
	}
	reports, err := app.DB().ListOpenReports(50)
	if err != nil {
		respondEngineError(w, err, false, app)
		return
	}
	render(w, r, "admin.html", "Admin", struct {
		Boards  []models.Board
		Reports []models.Report
	}{boards, reports}, app)
}

// HandleCreateBoard creates a board from the admin form.
func HandleCreateBoard(w http.ResponseWriter, r *http.Request, app App) {
	if err := r.ParseForm(); err != nil {
		respondEngineError(w, fmt.Errorf("%w: could not parse form: %v", models.ErrValidation, err), false, app)
		return
	}
	board := &models.Board{
		Handle:             r.FormValue("handle"),
		Title:              r.FormValue("title"),
		Description:        r.FormValue("description"),
		AccessLevel:        models.Anonymous,
		ActiveThreadsLimit: config.DefaultActiveThreadsLimit,
		ThreadSizeLimit:    config.DefaultThreadSizeLimit,
		Captcha:            formBool(r, "captcha"),
		NSFW:               formBool(r, "nsfw"),
	}
	if v := r.FormValue("access_level"); v != "" {
		level, err := strconv.Atoi(v)
		if err != nil {
			respondEngineError(w, fmt.Errorf("%w: invalid access level", models.ErrValidation), false, app)
			return
		}
		board.AccessLevel = models.AccessLevel(level)
	}
	if v := r.FormValue("active_threads_limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondEngineError(w, fmt.Errorf("%w: invalid active threads limit", models.ErrValidation), false, app)
			return
		}
		board.ActiveThreadsLimit = n
	}
	if v := r.FormValue("thread_size_limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondEngineError(w, fmt.Errorf("%w: invalid thread size limit", models.ErrValidation), false, app)
			return
		}
		board.ThreadSizeLimit = n
	}
	if err := app.DB().CreateBoard(userData(r), board); err != nil {
		respondEngineError(w, err, false, app)
		return
	}
	http.Redirect(w, r, "/admin", http.StatusFound)
}

// HandleDeleteBoard removes a board and everything under it.
func HandleDeleteBoard(w http.ResponseWriter, r *http.Request, app App) {
	boardID, err := strconv.ParseInt(chi.URLParam(r, "boardID"), 10, 64)
	if err != nil {
		respondEngineError(w, models.ErrNotFound, false, app)
		return
	}
	if err := app.DB().DeleteBoard(userData(r), boardID, app.Storage()); err != nil {
		respondEngineError(w, err, false, app)
		return
	}
	http.Redirect(w, r, "/admin", http.StatusFound)
}

// HandleApplicationsPage lists open membership applications, oldest first.
func HandleApplicationsPage(w http.ResponseWriter, r *http.Request, app App) {
	pageNum, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || pageNum < 1 {
		pageNum = 1
	}
	apps, err := app.DB().ListOpenApplications(pageNum, config.ApplicationsPerPage)
	if err != nil {
		respondEngineError(w, err, false, app)
		return
	}
	render(w, r, "applications.html", "Applications", struct {
		Applications []models.Application
		Page         int
	}{apps, pageNum}, app)
}

func reviewApplication(w http.ResponseWriter, r *http.Request, app App, accepted bool) {
	applicationID, err := strconv.ParseInt(chi.URLParam(r, "applicationID"), 10, 64)
	if err != nil {
		respondEngineError(w, models.ErrNotFound, false, app)
		return
	}
	if err := app.DB().ReviewApplication(userData(r), applicationID, accepted); err != nil {
		respondEngineError(w, err, false, app)
		return
	}
	http.Redirect(w, r, "/applications/1", http.StatusFound)
}

func HandleAcceptApplication(w http.ResponseWriter, r *http.Request, app App) {
	reviewApplication(w, r, app, true)
}

func HandleDenyApplication(w http.ResponseWriter, r *http.Request, app App) {
	reviewApplication(w, r, app, false)
}

// HandleCreateBan records a ban against a user, an IP, or both.
func HandleCreateBan(w http.ResponseWriter, r *http.Request, app App) {
	if err := r.ParseForm(); err != nil {
		respondEngineError(w, fmt.Errorf("%w: could not parse form: %v", models.ErrValidation, err), false, app)
		return
	}
	ban := &models.Ban{IPAddress: r.FormValue("ip_address")}
	if v := r.FormValue("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondEngineError(w, fmt.Errorf("%w: invalid user id", models.ErrValidation), false, app)
			return
		}
		ban.UserID.Int64, ban.UserID.Valid = id, true
	}
	if v := r.FormValue("post_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondEngineError(w, fmt.Errorf("%w: invalid post id", models.ErrValidation), false, app)
			return
		}
		ban.PostID.Int64, ban.PostID.Valid = id, true
	}
	if v := r.FormValue("reason"); v != "" {
		ban.Reason.String, ban.Reason.Valid = v, true
	}
	hours, err := strconv.Atoi(r.FormValue("duration_hours"))
	if err != nil || hours < 1 {
		respondEngineError(w, fmt.Errorf("%w: invalid ban duration", models.ErrValidation), false, app)
		return
	}
	ban.ExpiresAt = utils.GetSQLTime().Add(time.Duration(hours) * time.Hour)

	if err := app.DB().CreateBan(userData(r), ban); err != nil {
		respondEngineError(w, err, false, app)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"ban_id": ban.ID}, app)
}

// HandleResolveReport marks a report handled.
func HandleResolveReport(w http.ResponseWriter, r *http.Request, app App) {
	reportID, err := strconv.ParseInt(chi.URLParam(r, "reportID"), 10, 64)
	if err != nil {
		respondEngineError(w, models.ErrNotFound, false, app)
		return
	}
	if err := app.DB().ResolveReport(userData(r), reportID); err != nil {
		respondEngineError(w, err, false, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"}, app)
}
