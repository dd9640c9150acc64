package database

// migration represents a single database schema migration.
type migration struct {
	Version uint
	Query   string
}

// allMigrations holds all schema changes in order.
var allMigrations = []migration{
	{
		Version: 1,
		Query: `
-- Moderator notes on individual posts
ALTER TABLE posts ADD COLUMN mod_note TEXT;

-- Speed up the open-report listing on the admin page
CREATE INDEX IF NOT EXISTS idx_reports_open ON reports(resolved, created_at DESC);
		`,
	},
	{
		Version: 2,
		Query: `
-- Captcha expiry sweeps scan by deadline
CREATE INDEX IF NOT EXISTS idx_captchas_expires ON captchas(expires);
		`,
	},
}
