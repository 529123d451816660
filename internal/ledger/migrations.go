package ledger

type migration struct {
	version int
	sql     string
}

// migrations must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_messages (
	account      TEXT NOT NULL,
	message_key  TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	folder       TEXT NOT NULL DEFAULT '',
	uid          INTEGER NOT NULL DEFAULT 0,
	subject      TEXT NOT NULL DEFAULT '',
	processed_at DATETIME NOT NULL,
	PRIMARY KEY (account, message_key)
);

CREATE INDEX IF NOT EXISTS idx_processed_messages_run ON processed_messages(run_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
