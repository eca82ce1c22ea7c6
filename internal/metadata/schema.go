package metadata

// schema is applied by ensureSchema on startup. Two tables: file_metadata (C2's primary
// record) and family_storage_stats (C6's aggregated counters), written transactionally
// together by every mutating operation.
const schema = `
CREATE TABLE IF NOT EXISTS file_metadata (
	file_id           TEXT PRIMARY KEY,
	family_id         TEXT NOT NULL,
	owner_id          TEXT NOT NULL,
	original_name     TEXT NOT NULL,
	folder_path       TEXT NOT NULL DEFAULT '',
	file_type         TEXT NOT NULL DEFAULT '',
	file_size         BIGINT NOT NULL DEFAULT 0,
	storage_type      TEXT NOT NULL,
	storage_path      TEXT NOT NULL,
	visibility        TEXT NOT NULL DEFAULT 'PRIVATE',
	description       TEXT NOT NULL DEFAULT '',
	tags              TEXT[] NOT NULL DEFAULT '{}',
	create_time       TIMESTAMPTZ NOT NULL,
	update_time       TIMESTAMPTZ NOT NULL,
	upload_time       TIMESTAMPTZ NOT NULL,
	last_access_time  TIMESTAMPTZ NOT NULL,
	access_count      BIGINT NOT NULL DEFAULT 0,
	deleted           BOOLEAN NOT NULL DEFAULT FALSE,
	attributes        JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_file_metadata_family_active
	ON file_metadata (family_id) WHERE deleted = FALSE;

CREATE INDEX IF NOT EXISTS idx_file_metadata_family_folder
	ON file_metadata (family_id, folder_path) WHERE deleted = FALSE;

CREATE INDEX IF NOT EXISTS idx_file_metadata_search
	ON file_metadata (family_id, original_name, description) WHERE deleted = FALSE;

CREATE TABLE IF NOT EXISTS family_storage_stats (
	family_id             TEXT PRIMARY KEY,
	total_files           BIGINT NOT NULL DEFAULT 0,
	total_size            BIGINT NOT NULL DEFAULT 0,
	category_counts       JSONB NOT NULL DEFAULT '{}',
	largest_file_size     BIGINT NOT NULL DEFAULT 0,
	largest_file_name     TEXT NOT NULL DEFAULT '',
	most_recent_file_time TIMESTAMPTZ,
	last_updated          TIMESTAMPTZ NOT NULL
);
`
