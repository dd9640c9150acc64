// kapchan/handlers/pages.go
package handlers

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"kapchan/config"
	"kapchan/models"
)

// HandleHome renders the front page: visible boards plus the latest
// post previews the viewer is allowed to see.
func HandleHome(w http.ResponseWriter, r *http.Request, app App) {
	user := userData(r)
	boards, err := app.DB().ListBoards(user.AccessLevel)
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	previews, err := app.DB().LatestPreviews(user.AccessLevel, config.LatestPreviewCount)
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	render(w, r, "home.html", "kapchan", struct {
		Boards   []models.Board
		Previews []models.PostPreview
	}{boards, previews}, app)
}

// HandleCatalog renders the board index for one handle.
func HandleCatalog(w http.ResponseWriter, r *http.Request, app App) {
	user := userData(r)
	board, err := app.DB().GetBoard(chi.URLParam(r, "handle"))
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	if !user.MayRead(board.AccessLevel) {
		render(w, r, "forbidden.html", "Ei käyttöoikeutta", board, app)
		return
	}
	threads, err := app.DB().Catalog(board.ID)
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	render(w, r, "catalog.html", "/"+board.Handle+"/ - "+board.Title, struct {
		Board   *models.Board
		Threads []models.CatalogThread
	}{board, threads}, app)
}

// HandleThreadPage renders one thread with every post.
func HandleThreadPage(w http.ResponseWriter, r *http.Request, app App) {
	user := userData(r)
	threadID, err := strconv.ParseInt(chi.URLParam(r, "threadID"), 10, 64)
	if err != nil {
		respondEngineError(w, models.ErrNotFound, true, app)
		return
	}
	view, err := app.DB().Thread(threadID)
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	if view.BoardHandle != chi.URLParam(r, "handle") {
		respondEngineError(w, models.ErrNotFound, true, app)
		return
	}
	board, err := app.DB().GetBoardByID(view.Thread.BoardID)
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	if !user.MayRead(board.AccessLevel) {
		render(w, r, "forbidden.html", "Ei käyttöoikeutta", board, app)
		return
	}
	render(w, r, "thread.html", view.Thread.Title, struct {
		Board *models.Board
		View  *models.ThreadView
	}{board, view}, app)
}

// HandleGetThread returns the thread view as JSON.
func HandleGetThread(w http.ResponseWriter, r *http.Request, app App) {
	user := userData(r)
	threadID, err := strconv.ParseInt(chi.URLParam(r, "threadID"), 10, 64)
	if err != nil {
		respondEngineError(w, models.ErrNotFound, false, app)
		return
	}
	view, err := app.DB().Thread(threadID)
	if err != nil {
		respondEngineError(w, err, false, app)
		return
	}
	board, err := app.DB().GetBoardByID(view.Thread.BoardID)
	if err != nil {
		respondEngineError(w, err, false, app)
		return
	}
	if !user.MayRead(board.AccessLevel) {
		respondEngineError(w, models.ErrForbidden, false, app)
		return
	}
	for i := range view.Posts {
		scrubPost(&view.Posts[i], user)
	}
	respondJSON(w, http.StatusOK, view, app)
}

// scrubPost strips moderator-only fields before a post leaves the server.
func scrubPost(p *models.Post, viewer *models.UserData) {
	if viewer.AccessLevel >= models.Moderator {
		return
	}
	p.IPAddress = ""
	p.ModNote = sql.NullString{}
	if !p.ShowUsername {
		p.Username = sql.NullString{}
	}
}

// HandleGetPost returns one post as JSON, gated on its access level.
func HandleGetPost(w http.ResponseWriter, r *http.Request, app App) {
	user := userData(r)
	postID, err := strconv.ParseInt(chi.URLParam(r, "postID"), 10, 64)
	if err != nil {
		respondEngineError(w, models.ErrNotFound, false, app)
		return
	}
	post, err := app.DB().GetPost(postID)
	if err != nil {
		respondEngineError(w, err, false, app)
		return
	}
	if !user.MayRead(post.AccessLevel) {
		respondEngineError(w, models.ErrForbidden, false, app)
		return
	}
	scrubPost(post, user)
	respondJSON(w, http.StatusOK, post, app)
}
