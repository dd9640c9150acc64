// kapchan/handlers/files.go
package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"kapchan/models"
)

// HandleFile serves an attachment's original file.
func HandleFile(w http.ResponseWriter, r *http.Request, app App) {
	serveAttachment(w, r, app, false)
}

// HandleThumbnail serves an attachment's thumbnail.
func HandleThumbnail(w http.ResponseWriter, r *http.Request, app App) {
	serveAttachment(w, r, app, true)
}

// serveAttachment streams a stored file after the access gate: the
// owning post's access level must clear the viewer's, and banned users
// get nothing.
func serveAttachment(w http.ResponseWriter, r *http.Request, app App, thumbnail bool) {
	user := userData(r)
	postID, err := strconv.ParseInt(chi.URLParam(r, "postID"), 10, 64)
	if err != nil {
		respondEngineError(w, models.ErrNotFound, true, app)
		return
	}
	att, access, err := app.DB().GetAttachment(postID)
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	if !user.MayRead(access) || !user.MayPost() {
		respondEngineError(w, models.ErrForbidden, true, app)
		return
	}

	location := att.FileLocation
	if thumbnail {
		location = att.ThumbnailLocation
	}
	rc, err := app.Storage().Open(location, att.FileName)
	if err != nil {
		app.Logger().Error("Failed to open attachment", "post_id", postID, "location", location, "error", err)
		respondEngineError(w, models.ErrNotFound, true, app)
		return
	}
	defer func() {
		if err := rc.Close(); err != nil {
			app.Logger().Warn("Failed to close attachment reader", "post_id", postID, "error", err)
		}
	}()

	w.Header().Set("Content-Type", att.FileType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if !thumbnail {
		w.Header().Set("Content-Length", strconv.FormatInt(att.FileSizeBytes, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		app.Logger().Debug("Attachment stream interrupted", "post_id", postID, "error", err)
	}
}
