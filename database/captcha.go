// kapchan/database/captcha.go
package database

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"kapchan/config"
	"kapchan/models"
	"kapchan/utils"
)

// captchaIDAttempts bounds the retry loop on random-id collisions.
const captchaIDAttempts = 3

// IssueCaptcha stores an answer under a random non-zero 64-bit id with
// a five-minute deadline. Id collisions are retried a few times before
// giving up.
func (s *Service) IssueCaptcha(answer string) (*models.Captcha, error) {
	if answer == "" {
		return nil, fmt.Errorf("%w: captcha answer must not be empty", models.ErrValidation)
	}
	expires := utils.GetSQLTime().Add(config.CaptchaTTL)

	for attempt := 0; attempt < captchaIDAttempts; attempt++ {
		id, err := randomCaptchaID()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInfra, err)
		}
		_, err = s.DB.Exec("INSERT INTO captchas (id, answer, expires) VALUES (?, ?, ?)", id, answer, expires)
		if err == nil {
			return &models.Captcha{ID: id, Answer: answer, Expires: expires}, nil
		}
		if terr := translateErr(err); !errors.Is(terr, models.ErrUnique) {
			return nil, terr
		}
		s.logger.Warn("Captcha id collision, retrying", "attempt", attempt+1)
	}
	return nil, fmt.Errorf("%w: captcha id space exhausted", models.ErrInfra)
}

// VerifyCaptcha consumes a captcha. The row is deleted before the
// answer is compared, so a wrong guess burns the captcha.
func (s *Service) VerifyCaptcha(id int64, answer string) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return translateErr(err)
	}
	defer s.rollback(tx, "VerifyCaptcha")

	var stored models.Captcha
	err = tx.QueryRow("SELECT id, answer, expires FROM captchas WHERE id = ?", id).
		Scan(&stored.ID, &stored.Answer, &stored.Expires)
	if err != nil {
		return translateErr(err)
	}
	if _, err := tx.Exec("DELETE FROM captchas WHERE id = ?", id); err != nil {
		return translateErr(err)
	}
	if err := tx.Commit(); err != nil {
		return translateErr(err)
	}

	if utils.GetSQLTime().After(stored.Expires) {
		return fmt.Errorf("%w: captcha expired", models.ErrValidation)
	}
	if subtle.ConstantTimeCompare([]byte(answer), []byte(stored.Answer)) != 1 {
		return fmt.Errorf("%w: captcha mismatch", models.ErrValidation)
	}
	return nil
}

// PruneCaptchas clears expired rows. Run periodically from main.
func (s *Service) PruneCaptchas() error {
	res, err := s.DB.Exec("DELETE FROM captchas WHERE expires <= ?", utils.GetSQLTime())
	if err != nil {
		return translateErr(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("Pruned expired captchas", "count", n)
	}
	return nil
}

func randomCaptchaID() (int64, error) {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		id := int64(binary.BigEndian.Uint64(buf[:]) >> 1)
		if id != 0 {
			return id, nil
		}
	}
}
