// kapchan/utils/captcha.go
package utils

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	mrand "math/rand"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Unambiguous charset: no 0/O, 1/I, etc.
const captchaCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RandomCaptchaAnswer returns a random answer of n characters.
func RandomCaptchaAnswer(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = captchaCharset[int(buf[i])%len(captchaCharset)]
	}
	return string(buf), nil
}

// RenderCaptchaPNG rasterizes the answer into a small PNG with light
// per-character jitter and noise.
func RenderCaptchaPNG(answer string) ([]byte, error) {
	const (
		width  = 160
		height = 60
	)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	for i := 0; i < 120; i++ {
		x, y := mrand.Intn(width), mrand.Intn(height)
		img.Set(x, y, color.Gray{Y: uint8(mrand.Intn(180))})
	}

	face := basicfont.Face7x13
	step := (width - 20) / max(len(answer), 1)
	for i, ch := range answer {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(color.Black),
			Face: face,
			Dot: fixed.P(
				10+i*step+mrand.Intn(5),
				height/2+4+mrand.Intn(9)-4,
			),
		}
		d.DrawString(string(ch))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode captcha image: %w", err)
	}
	return buf.Bytes(), nil
}
