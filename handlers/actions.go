// kapchan/handlers/actions.go
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"kapchan/config"
	"kapchan/models"
)

// multipartSlack is headroom on top of the attachment cap for the text
// fields of the form.
const multipartSlack = 1 << 20

// HandleCreateThread handles the new-thread form: captcha when the
// board demands one, engine insert, then attachment ingest with full
// compensation when the ingest fails.
func HandleCreateThread(w http.ResponseWriter, r *http.Request, app App) {
	user := userData(r)
	board, err := app.DB().GetBoard(chi.URLParam(r, "handle"))
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}

	// ParseMultipartForm only bounds memory buffering; the body itself
	// needs its own cap.
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxThreadFileSize+multipartSlack)
	if err := r.ParseMultipartForm(config.MaxThreadFileSize + multipartSlack); err != nil {
		respondEngineError(w, fmt.Errorf("%w: could not parse form: %v", models.ErrValidation, err), true, app)
		return
	}

	if board.Captcha {
		if err := verifyFormCaptcha(r, app); err != nil {
			respondEngineError(w, err, true, app)
			return
		}
	}

	thread, post, err := app.DB().CreateThread(user, board, r.FormValue("topic"), r.FormValue("message"))
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}

	if file, header, ferr := r.FormFile("attachment"); ferr == nil {
		defer file.Close()
		if _, err := app.Pipeline().Ingest(file, header, post.ID, config.MaxThreadFileSize); err != nil {
			// The thread already committed; take it back down.
			if rerr := app.DB().RemoveThread(thread.ID); rerr != nil {
				app.Logger().Error("Failed to compensate thread after ingest failure", "thread_id", thread.ID, "error", rerr)
			}
			respondEngineError(w, err, true, app)
			return
		}
	}

	respondJSON(w, http.StatusCreated, map[string]int64{"thread_id": thread.ID, "post_id": post.ID}, app)
}

// HandleCreateReply handles the reply form on a thread page.
func HandleCreateReply(w http.ResponseWriter, r *http.Request, app App) {
	user := userData(r)
	board, err := app.DB().GetBoard(chi.URLParam(r, "handle"))
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	threadID, err := strconv.ParseInt(chi.URLParam(r, "threadID"), 10, 64)
	if err != nil {
		respondEngineError(w, models.ErrNotFound, true, app)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxReplyFileSize+multipartSlack)
	if err := r.ParseMultipartForm(config.MaxReplyFileSize + multipartSlack); err != nil {
		respondEngineError(w, fmt.Errorf("%w: could not parse form: %v", models.ErrValidation, err), true, app)
		return
	}

	if board.Captcha {
		if err := verifyFormCaptcha(r, app); err != nil {
			respondEngineError(w, err, true, app)
			return
		}
	}

	sage := formBool(r, "sage")
	showUsername := formBool(r, "show_username")
	post, err := app.DB().CreateReply(user, threadID, r.FormValue("message"), sage, showUsername)
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}

	if file, header, ferr := r.FormFile("attachment"); ferr == nil {
		defer file.Close()
		if _, err := app.Pipeline().Ingest(file, header, post.ID, config.MaxReplyFileSize); err != nil {
			if rerr := app.DB().RemovePost(post.ID); rerr != nil {
				app.Logger().Error("Failed to compensate post after ingest failure", "post_id", post.ID, "error", rerr)
			}
			respondEngineError(w, err, true, app)
			return
		}
	}

	respondJSON(w, http.StatusCreated, map[string]int64{"post_id": post.ID}, app)
}

// verifyFormCaptcha consumes the captcha named by the form fields.
func verifyFormCaptcha(r *http.Request, app App) error {
	id, err := strconv.ParseInt(r.FormValue("captcha_id"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: captcha id missing", models.ErrValidation)
	}
	err = app.DB().VerifyCaptcha(id, r.FormValue("captcha"))
	if errors.Is(err, models.ErrNotFound) {
		// A consumed or never-issued captcha reads the same to the client.
		return fmt.Errorf("%w: captcha mismatch", models.ErrValidation)
	}
	return err
}

func formBool(r *http.Request, field string) bool {
	switch r.FormValue(field) {
	case "true", "on", "1":
		return true
	}
	return false
}

// HandleDeletePost deletes a single reply.
func HandleDeletePost(w http.ResponseWriter, r *http.Request, app App) {
	postID, err := strconv.ParseInt(chi.URLParam(r, "postID"), 10, 64)
	if err != nil {
		respondEngineError(w, models.ErrNotFound, true, app)
		return
	}
	if err := app.DB().DeletePost(userData(r), postID, app.Storage()); err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, app)
}

// HandleDeleteThread deletes a thread with everything under it.
func HandleDeleteThread(w http.ResponseWriter, r *http.Request, app App) {
	threadID, err := strconv.ParseInt(chi.URLParam(r, "threadID"), 10, 64)
	if err != nil {
		respondEngineError(w, models.ErrNotFound, true, app)
		return
	}
	if err := app.DB().DeleteThread(userData(r), threadID, app.Storage()); err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, app)
}

// HandleReportPost files a report against a post.
func HandleReportPost(w http.ResponseWriter, r *http.Request, app App) {
	postID, err := strconv.ParseInt(chi.URLParam(r, "postID"), 10, 64)
	if err != nil {
		respondEngineError(w, models.ErrNotFound, true, app)
		return
	}
	if err := r.ParseForm(); err != nil {
		respondEngineError(w, fmt.Errorf("%w: could not parse form: %v", models.ErrValidation, err), true, app)
		return
	}
	if err := app.DB().CreateReport(userData(r), postID, r.FormValue("reason")); err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "reported"}, app)
}

// --- Moderation toggles ---

func threadFlagHandler(set func(*models.UserData, int64, bool) error, value bool) func(http.ResponseWriter, *http.Request, App) {
	return func(w http.ResponseWriter, r *http.Request, app App) {
		threadID, err := strconv.ParseInt(chi.URLParam(r, "threadID"), 10, 64)
		if err != nil {
			respondEngineError(w, models.ErrNotFound, false, app)
			return
		}
		if err := set(userData(r), threadID, value); err != nil {
			respondEngineError(w, err, false, app)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, app)
	}
}

func HandlePinThread(w http.ResponseWriter, r *http.Request, app App) {
	threadFlagHandler(app.DB().PinThread, true)(w, r, app)
}

func HandleUnpinThread(w http.ResponseWriter, r *http.Request, app App) {
	threadFlagHandler(app.DB().PinThread, false)(w, r, app)
}

func HandleLockThread(w http.ResponseWriter, r *http.Request, app App) {
	threadFlagHandler(app.DB().LockThread, true)(w, r, app)
}

func HandleUnlockThread(w http.ResponseWriter, r *http.Request, app App) {
	threadFlagHandler(app.DB().LockThread, false)(w, r, app)
}

// HandleBumpThread manually refreshes a thread's bump time.
func HandleBumpThread(w http.ResponseWriter, r *http.Request, app App) {
	threadID, err := strconv.ParseInt(chi.URLParam(r, "threadID"), 10, 64)
	if err != nil {
		respondEngineError(w, models.ErrNotFound, false, app)
		return
	}
	if err := app.DB().BumpThread(userData(r), threadID); err != nil {
		respondEngineError(w, err, false, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, app)
}
