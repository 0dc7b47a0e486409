package database

// migrations is an ordered list of SQL migration groups. Each entry runs in
// one transaction; its version is the 1-based index into this slice.
//
// Timestamps are stored as epoch milliseconds. A watermark of 0 means the
// entity type has never been pulled.
var migrations = [][]string{
	// 1: tenant record and connected HubSpot accounts
	{
		`CREATE TABLE domains (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			api_key TEXT UNIQUE NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE hubspot_accounts (
			domain_id INTEGER NOT NULL,
			hub_id TEXT NOT NULL,
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL,
			last_pulled_companies INTEGER NOT NULL DEFAULT 0,
			last_pulled_contacts INTEGER NOT NULL DEFAULT 0,
			last_pulled_meetings INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (domain_id, hub_id),
			FOREIGN KEY (domain_id) REFERENCES domains(id) ON DELETE CASCADE
		)`,
	},

	// 2: local action sink
	{
		`CREATE TABLE actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			domain_id INTEGER NOT NULL,
			action_name TEXT NOT NULL,
			action_date INTEGER NOT NULL,
			identity TEXT,
			payload TEXT NOT NULL,
			inserted_at INTEGER NOT NULL,
			FOREIGN KEY (domain_id) REFERENCES domains(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX idx_actions_domain_date ON actions(domain_id, action_date)`,
	},
}

// Version returns the schema version Migrate brings a database to.
func Version() int { return len(migrations) }
