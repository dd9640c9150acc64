// kapchan/handlers/chat.go
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"kapchan/chat"
	"kapchan/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The session cookie is SameSite=Strict; cross-site websocket
		// requests never carry it, so origin checking adds nothing here.
		return true
	},
}

// HandleChatPage renders the chat client.
func HandleChatPage(w http.ResponseWriter, r *http.Request, app App) {
	user := userData(r)
	if !user.MayPost() {
		render(w, r, "forbidden.html", "Ei käyttöoikeutta", nil, app)
		return
	}
	rooms, err := app.DB().ListChatRooms()
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	render(w, r, "chat.html", "Chat", struct {
		Rooms []models.ChatRoom
	}{rooms}, app)
}

// HandleChatWS upgrades the connection and hands it to the hub.
func HandleChatWS(w http.ResponseWriter, r *http.Request, app App) {
	user := userData(r)
	if !user.MayPost() {
		respondEngineError(w, models.ErrForbidden, true, app)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.Logger().Warn("Chat upgrade failed", "error", err)
		return
	}
	chat.NewSession(app.Hub(), conn, chatDisplayName(user), app.Logger()).Run()
}

// chatDisplayName is the username in chat, or a stable anonymous alias.
func chatDisplayName(user *models.UserData) string {
	if user.Username.Valid && user.Username.String != "" {
		return user.Username.String
	}
	return fmt.Sprintf("Anonyymi-%d", user.ID)
}
