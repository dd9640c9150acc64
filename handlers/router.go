// kapchan/handlers/router.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kapchan/models"
)

// NewRouter wires every route. Literal prefixes (login, admin, files,
// captcha, chat) take precedence over the board-handle wildcards chi
// matches last.
func NewRouter(app App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(app))
	r.Use(ResolveIdentity(app))

	r.Get("/", MakeHandler(app, HandleHome))
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	// Accounts
	r.Get("/login", MakeHandler(app, HandleLoginPage))
	r.Post("/login", MakeHandler(app, HandleLogin))
	r.Post("/logout", MakeHandler(app, HandleLogout))
	r.Get("/register", MakeHandler(app, HandleRegisterPage))
	r.Post("/register", MakeHandler(app, HandleRegister))
	r.Get("/apply", MakeHandler(app, HandleApplyPage))
	r.Post("/apply", MakeHandler(app, HandleApply))

	// Captcha
	r.Get("/captcha", RateLimit(app, MakeHandler(app, HandleCaptcha)))

	// Chat
	r.Get("/chat", MakeHandler(app, HandleChatPage))
	r.Get("/chat/ws", MakeHandler(app, HandleChatWS))

	// Attachment serving
	r.Get("/files/{postID}", MakeHandler(app, HandleFile))
	r.Get("/thumbnails/{postID}", MakeHandler(app, HandleThumbnail))

	// Posts and threads
	r.Get("/posts/{postID}", MakeHandler(app, HandleGetPost))
	r.Delete("/posts/{postID}", MakeHandler(app, HandleDeletePost))
	r.Post("/posts/{postID}/report", MakeHandler(app, HandleReportPost))
	r.Get("/threads/{threadID}", MakeHandler(app, HandleGetThread))
	r.Delete("/threads/{threadID}", MakeHandler(app, HandleDeleteThread))

	// Moderation
	r.Group(func(r chi.Router) {
		r.Use(RequireAccess(app, models.Moderator))
		r.Post("/threads/{threadID}/pin", MakeHandler(app, HandlePinThread))
		r.Post("/threads/{threadID}/unpin", MakeHandler(app, HandleUnpinThread))
		r.Post("/threads/{threadID}/lock", MakeHandler(app, HandleLockThread))
		r.Post("/threads/{threadID}/unlock", MakeHandler(app, HandleUnlockThread))
		r.Post("/threads/{threadID}/bump", MakeHandler(app, HandleBumpThread))
		r.Post("/bans", MakeHandler(app, HandleCreateBan))
		r.Post("/reports/{reportID}/resolve", MakeHandler(app, HandleResolveReport))
	})

	// Administration
	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireAccess(app, models.Moderator))
		r.Get("/", MakeHandler(app, HandleAdminPage))
		r.With(RequireAccess(app, models.Admin)).Post("/boards", MakeHandler(app, HandleCreateBoard))
	})
	r.With(RequireAccess(app, models.Admin)).Delete("/boards/{boardID}", MakeHandler(app, HandleDeleteBoard))
	r.Route("/applications", func(r chi.Router) {
		r.Use(RequireAccess(app, models.Admin))
		r.Get("/{page}", MakeHandler(app, HandleApplicationsPage))
		r.Post("/{applicationID}/accept", MakeHandler(app, HandleAcceptApplication))
		r.Post("/{applicationID}/deny", MakeHandler(app, HandleDenyApplication))
	})

	// Boards, matched last.
	r.Get("/{handle}", MakeHandler(app, HandleCatalog))
	r.Post("/{handle}", RateLimit(app, MakeHandler(app, HandleCreateThread)))
	r.Get("/{handle}/{threadID}", MakeHandler(app, HandleThreadPage))
	r.Post("/{handle}/{threadID}", RateLimit(app, MakeHandler(app, HandleCreateReply)))

	return r
}
