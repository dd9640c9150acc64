package database

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	access_level INTEGER NOT NULL DEFAULT 10,
	username TEXT UNIQUE,
	email TEXT UNIQUE,
	password_hash TEXT,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS bans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	moderator_id INTEGER NOT NULL,
	user_id INTEGER,
	post_id INTEGER,
	reason TEXT,
	ip_address TEXT NOT NULL DEFAULT '',
	expires_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (moderator_id) REFERENCES users(id)
);
CREATE TABLE IF NOT EXISTS boards (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	handle TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	access_level INTEGER NOT NULL DEFAULT 10,
	active_threads_limit INTEGER NOT NULL DEFAULT 50,
	thread_size_limit INTEGER NOT NULL DEFAULT 300,
	captcha BOOLEAN NOT NULL DEFAULT 0,
	nsfw BOOLEAN NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS threads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	board_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	pinned BOOLEAN NOT NULL DEFAULT 0,
	locked BOOLEAN NOT NULL DEFAULT 0,
	archived BOOLEAN NOT NULL DEFAULT 0,
	bump_time DATETIME NOT NULL,
	FOREIGN KEY (user_id) REFERENCES users(id),
	FOREIGN KEY (board_id) REFERENCES boards(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	thread_id INTEGER NOT NULL,
	access_level INTEGER NOT NULL,
	show_username BOOLEAN NOT NULL DEFAULT 0,
	sage BOOLEAN NOT NULL DEFAULT 0,
	message TEXT NOT NULL,
	message_hash TEXT NOT NULL,
	ip_address TEXT NOT NULL,
	country_code TEXT,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (user_id) REFERENCES users(id),
	FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
);
-- Attachments share their primary key with the owning post.
CREATE TABLE IF NOT EXISTS attachments (
	id INTEGER PRIMARY KEY,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	file_size_bytes INTEGER NOT NULL,
	file_name TEXT NOT NULL,
	file_type TEXT NOT NULL,
	file_location TEXT NOT NULL,
	thumbnail_location TEXT NOT NULL,
	FOREIGN KEY (id) REFERENCES posts(id) ON DELETE CASCADE
);
-- reply_id is the replying post; post_id is the post it references.
CREATE TABLE IF NOT EXISTS replies (
	post_id INTEGER NOT NULL,
	reply_id INTEGER NOT NULL,
	PRIMARY KEY (post_id, reply_id),
	FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE,
	FOREIGN KEY (reply_id) REFERENCES posts(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS applications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	accepted BOOLEAN NOT NULL DEFAULT 0,
	background TEXT NOT NULL DEFAULT '',
	motivation TEXT NOT NULL DEFAULT '',
	other TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	closed_at DATETIME,
	FOREIGN KEY (user_id) REFERENCES users(id)
);
CREATE TABLE IF NOT EXISTS application_reviews (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	application_id INTEGER NOT NULL,
	reviewer_id INTEGER NOT NULL,
	accepted BOOLEAN NOT NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (application_id) REFERENCES applications(id) ON DELETE CASCADE,
	FOREIGN KEY (reviewer_id) REFERENCES users(id)
);
-- id is the random 64-bit captcha id, not an autoincrement rowid alias.
CREATE TABLE IF NOT EXISTS captchas (
	id INTEGER PRIMARY KEY,
	answer TEXT NOT NULL,
	expires DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_rooms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	sort_order INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	reason TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	resolved BOOLEAN NOT NULL DEFAULT 0,
	FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users(id)
);

-- --- INDEXES ---
CREATE INDEX IF NOT EXISTS idx_threads_catalog ON threads(board_id, archived, pinned DESC, bump_time DESC);
CREATE INDEX IF NOT EXISTS idx_posts_thread ON posts(thread_id);
CREATE INDEX IF NOT EXISTS idx_posts_latest ON posts(access_level, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_replies_post ON replies(post_id);
CREATE INDEX IF NOT EXISTS idx_bans_user ON bans(user_id, expires_at DESC);
CREATE INDEX IF NOT EXISTS idx_bans_ip ON bans(ip_address, expires_at DESC);
CREATE INDEX IF NOT EXISTS idx_reports_post ON reports(post_id);
-- One open application per user.
CREATE UNIQUE INDEX IF NOT EXISTS idx_applications_open ON applications(user_id) WHERE closed_at IS NULL;
`
