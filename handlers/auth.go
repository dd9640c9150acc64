// kapchan/handlers/auth.go
package handlers

import (
	"fmt"
	"net/http"

	"kapchan/config"
	"kapchan/models"
	"kapchan/utils"
)

func HandleLoginPage(w http.ResponseWriter, r *http.Request, app App) {
	render(w, r, "login.html", "Kirjaudu", nil, app)
}

// HandleLogin checks credentials and rebinds the session cookie to the
// authenticated user.
func HandleLogin(w http.ResponseWriter, r *http.Request, app App) {
	if err := r.ParseForm(); err != nil {
		respondEngineError(w, fmt.Errorf("%w: could not parse form: %v", models.ErrValidation, err), true, app)
		return
	}
	user, err := app.DB().AuthenticateUser(r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		// Unknown users and wrong passwords read the same.
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "Väärä tunnus tai salasana."}, app)
		return
	}
	token, err := app.Sessions().Issue(user.ID)
	if err != nil {
		app.Logger().Error("Failed to issue session token", "user_id", user.ID, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Palvelinvirhe."}, app)
		return
	}
	http.SetCookie(w, utils.SessionCookie(token, requestIsSecure(r)))
	http.Redirect(w, r, "/", http.StatusFound)
}

// HandleLogout clears the session cookie. The next request mints a
// fresh anonymous identity.
func HandleLogout(w http.ResponseWriter, r *http.Request, app App) {
	http.SetCookie(w, &http.Cookie{
		Name:     config.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

func HandleRegisterPage(w http.ResponseWriter, r *http.Request, app App) {
	render(w, r, "register.html", "Rekisteröidy", nil, app)
}

// HandleRegister upgrades the current anonymous user with credentials.
func HandleRegister(w http.ResponseWriter, r *http.Request, app App) {
	user := userData(r)
	if err := r.ParseForm(); err != nil {
		respondEngineError(w, fmt.Errorf("%w: could not parse form: %v", models.ErrValidation, err), true, app)
		return
	}
	err := app.DB().RegisterUser(user.ID, r.FormValue("username"), r.FormValue("email"), r.FormValue("password"))
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func HandleApplyPage(w http.ResponseWriter, r *http.Request, app App) {
	render(w, r, "apply.html", "Jäsenhakemus", nil, app)
}

// HandleApply submits a membership application.
func HandleApply(w http.ResponseWriter, r *http.Request, app App) {
	user := userData(r)
	if err := r.ParseForm(); err != nil {
		respondEngineError(w, fmt.Errorf("%w: could not parse form: %v", models.ErrValidation, err), true, app)
		return
	}
	_, err := app.DB().CreateApplication(user,
		r.FormValue("background"), r.FormValue("motivation"), r.FormValue("other"))
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}
