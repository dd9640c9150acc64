// kapchan/handlers/captcha.go
package handlers

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"kapchan/config"
	"kapchan/utils"
)

// HandleCaptcha issues a fresh captcha: a random answer stored under a
// random id, rendered to PNG and returned base64-encoded. The id goes
// out as a string so 64-bit values survive javascript.
func HandleCaptcha(w http.ResponseWriter, r *http.Request, app App) {
	answer, err := utils.RandomCaptchaAnswer(config.CaptchaAnswerLen)
	if err != nil {
		app.Logger().Error("Failed to generate captcha answer", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Palvelinvirhe."}, app)
		return
	}
	captcha, err := app.DB().IssueCaptcha(answer)
	if err != nil {
		respondEngineError(w, err, true, app)
		return
	}
	img, err := utils.RenderCaptchaPNG(answer)
	if err != nil {
		app.Logger().Error("Failed to render captcha", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Palvelinvirhe."}, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"id":      strconv.FormatInt(captcha.ID, 10),
		"captcha": base64.StdEncoding.EncodeToString(img),
	}, app)
}
