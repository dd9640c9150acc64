// kapchan/handlers/handlers.go
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"kapchan/attachments"
	"kapchan/chat"
	"kapchan/database"
	"kapchan/models"
	"kapchan/utils"
)

// App is an interface that defines the dependencies our handlers need.
type App interface {
	DB() *database.Service
	Storage() models.StorageService
	Pipeline() *attachments.Pipeline
	Hub() *chat.Hub
	Sessions() *utils.SessionCodec
	RateLimiter() *models.RateLimiter
	Logger() *slog.Logger
}

// MakeHandler adapts an App-aware handler to http.HandlerFunc.
func MakeHandler(app App, fn func(http.ResponseWriter, *http.Request, App)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, app)
	}
}

// respondJSON sends a JSON response with a given status code.
func respondJSON(w http.ResponseWriter, status int, payload interface{}, app App) {
	response, err := json.Marshal(payload)
	if err != nil {
		app.Logger().Error("Failed to marshal JSON payload", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		if _, werr := w.Write([]byte(`{"error":"Failed to marshal JSON response"}`)); werr != nil {
			app.Logger().Error("Failed to write internal server error response", "error", werr)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		app.Logger().Error("Failed to write JSON response", "error", err)
	}
}

// statusForError maps the engine taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden), errors.Is(err, models.ErrForeignKey):
		return http.StatusForbidden
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrUnique):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondEngineError converts an engine error into a JSON error body.
// Public post forms get Finnish strings; admin surfaces get English.
func respondEngineError(w http.ResponseWriter, err error, localized bool, app App) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		app.Logger().Error("Engine failure", "error", err)
		respondJSON(w, status, map[string]string{"error": serverErrorMessage(localized)}, app)
		return
	}
	msg := err.Error()
	if localized {
		msg = localizeError(err)
	}
	respondJSON(w, status, map[string]string{"error": msg}, app)
}

func serverErrorMessage(localized bool) string {
	if localized {
		return "Palvelinvirhe."
	}
	return "Internal server error."
}

// localizeError picks the Finnish user-facing string for an engine error.
func localizeError(err error) string {
	msg := err.Error()
	switch {
	case errors.Is(err, models.ErrValidation):
		switch {
		case strings.Contains(msg, "empty"):
			return "Viesti ei voi olla tyhjä."
		case strings.Contains(msg, "exceeds"):
			return "Viesti on liian pitkä."
		case strings.Contains(msg, "captcha"):
			return "Virheellinen captcha."
		case strings.Contains(msg, "attachment"):
			return "Virheellinen liitetiedosto."
		default:
			return "Virheellinen syöte."
		}
	case errors.Is(err, models.ErrForbidden):
		switch {
		case strings.Contains(msg, "locked"):
			return "Lanka on lukittu."
		case strings.Contains(msg, "archived"):
			return "Lanka on arkistoitu."
		case strings.Contains(msg, "full"):
			return "Lanka on täynnä."
		case strings.Contains(msg, "banned"):
			return "Olet porttikiellossa."
		default:
			return "Ei käyttöoikeutta."
		}
	case errors.Is(err, models.ErrUnique):
		return "Tunnus tai sähköposti on jo käytössä."
	case errors.Is(err, models.ErrForeignKey):
		return "Kohdetta ei enää ole."
	case errors.Is(err, models.ErrNotFound):
		return "Ei löytynyt."
	default:
		return "Palvelinvirhe."
	}
}

// userData pulls the resolved identity out of the request context. The
// identity middleware guarantees it is present on every routed request.
func userData(r *http.Request) *models.UserData {
	u, _ := r.Context().Value(UserDataKey).(*models.UserData)
	return u
}
