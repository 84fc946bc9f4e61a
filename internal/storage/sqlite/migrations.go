package sqlite

import "database/sql"

// schema sets up the database on startup.
// Money columns hold integer minor units so that conditional updates are exact.
// Timestamps are Unix milliseconds in UTC.
// IMPORTANT: users and groups must be created before the tables that reference them.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    phone TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    trust_score INTEGER NOT NULL DEFAULT 70,
    is_verified INTEGER NOT NULL DEFAULT 0,
    total_lent_minor INTEGER NOT NULL DEFAULT 0,
    total_borrowed_minor INTEGER NOT NULL DEFAULT 0,
    agreement_count INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_by TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
    group_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    email TEXT NOT NULL,
    joined_at INTEGER NOT NULL,
    PRIMARY KEY (group_id, user_id),
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS agreements (
    id TEXT PRIMARY KEY,
    lender_id TEXT NOT NULL,
    lender_name TEXT NOT NULL,
    lender_email TEXT NOT NULL,
    lender_phone TEXT NOT NULL DEFAULT '',
    borrower_id TEXT NOT NULL,
    borrower_name TEXT NOT NULL,
    borrower_email TEXT NOT NULL,
    borrower_phone TEXT NOT NULL DEFAULT '',
    amount_minor INTEGER NOT NULL CHECK (amount_minor > 0),
    purpose TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    due_date INTEGER NOT NULL,
    buffer_days_granted INTEGER NOT NULL,
    buffer_days_remaining INTEGER NOT NULL CHECK (buffer_days_remaining >= 0),
    strict_mode INTEGER NOT NULL DEFAULT 0,
    witness_name TEXT NOT NULL DEFAULT '',
    witness_email TEXT NOT NULL DEFAULT '',
    witness_phone TEXT NOT NULL DEFAULT '',
    witness_approved INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    lender_proof_file TEXT,
    lender_proof_url TEXT,
    lender_proof_at INTEGER,
    borrower_proof_file TEXT,
    borrower_proof_url TEXT,
    borrower_proof_at INTEGER,
    plan_index INTEGER,
    plan_name TEXT,
    group_contribution INTEGER NOT NULL DEFAULT 0,
    money_request_id TEXT NOT NULL DEFAULT '',
    base_trust_score INTEGER NOT NULL,
    trust_score INTEGER NOT NULL CHECK (trust_score BETWEEN 0 AND 100),
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS agreement_timeline (
    agreement_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    event TEXT NOT NULL,
    at INTEGER,
    completed INTEGER NOT NULL,
    PRIMARY KEY (agreement_id, seq),
    FOREIGN KEY (agreement_id) REFERENCES agreements(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS installments (
    agreement_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    due_at INTEGER NOT NULL,
    amount_minor INTEGER NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    proof_uploaded INTEGER NOT NULL DEFAULT 0,
    proof_url TEXT NOT NULL DEFAULT '',
    proof_file_name TEXT NOT NULL DEFAULT '',
    uploaded_at INTEGER,
    PRIMARY KEY (agreement_id, idx),
    FOREIGN KEY (agreement_id) REFERENCES agreements(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS money_requests (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    requester_id TEXT NOT NULL,
    requester_name TEXT NOT NULL,
    requester_email TEXT NOT NULL,
    requester_phone TEXT NOT NULL DEFAULT '',
    amount_minor INTEGER NOT NULL CHECK (amount_minor > 0),
    amount_received_minor INTEGER NOT NULL DEFAULT 0,
    amount_remaining_minor INTEGER NOT NULL CHECK (amount_remaining_minor >= 0),
    purpose TEXT NOT NULL DEFAULT '',
    due_date INTEGER NOT NULL,
    status TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    CHECK (amount_received_minor + amount_remaining_minor = amount_minor),
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS contributions (
    money_request_id TEXT NOT NULL,
    agreement_id TEXT NOT NULL UNIQUE,
    lender_id TEXT NOT NULL,
    lender_name TEXT NOT NULL,
    lender_email TEXT NOT NULL,
    amount_minor INTEGER NOT NULL CHECK (amount_minor > 0),
    contributed_at INTEGER NOT NULL,
    FOREIGN KEY (money_request_id) REFERENCES money_requests(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS live_locations (
    id TEXT PRIMARY KEY,
    agreement_id TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    context TEXT NOT NULL DEFAULT '',
    is_emergency INTEGER NOT NULL DEFAULT 0,
    recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agreements_lender_id ON agreements(lender_id);
CREATE INDEX IF NOT EXISTS idx_agreements_borrower_id ON agreements(borrower_id);
CREATE INDEX IF NOT EXISTS idx_group_members_user_id ON group_members(user_id);
CREATE INDEX IF NOT EXISTS idx_money_requests_group_id ON money_requests(group_id);
CREATE INDEX IF NOT EXISTS idx_contributions_money_request_id ON contributions(money_request_id);
CREATE INDEX IF NOT EXISTS idx_live_locations_agreement_id ON live_locations(agreement_id, recorded_at);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
