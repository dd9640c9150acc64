// kapchan/config/config.go
package config

import "time"

const (
	AppVersion = "0.9.1"

	// Form & post limits
	MaxTitleLen     = 100
	MaxHandleLen    = 8
	MaxThreadMsgLen = 20000
	MaxReplyMsgLen  = 40000

	// File upload limits
	MaxThreadFileSize = 20 * 1024 * 1024 // 20MB for thread OPs
	MaxReplyFileSize  = 5 * 1024 * 1024  // 5MB for replies
	ThumbnailWidth    = 300
	ThumbnailHeight   = 300

	// Session cookie
	SessionCookieName = "kapchan-session"
	SessionTTL        = 365 * 24 * time.Hour

	// Captcha
	CaptchaTTL       = 5 * time.Minute
	CaptchaAnswerLen = 6

	// Board defaults
	DefaultActiveThreadsLimit = 50
	DefaultThreadSizeLimit    = 300

	// Admin paging
	ApplicationsPerPage = 20

	// Home page
	LatestPreviewCount = 10

	// Rate limiting defaults
	DefaultRateLimitEvery  = "10s"
	DefaultRateLimitBurst  = 5
	DefaultRateLimitPrune  = "1h"
	DefaultRateLimitExpire = "24h"
)
