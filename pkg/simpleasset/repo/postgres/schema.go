package postgres

// Schema creates the catalog and entity image tables. It is idempotent.
//
// The partial unique index on entity_image allows at most one cover per
// entity; the repository keeps it at exactly one for non-empty galleries.
const Schema = `
CREATE TABLE IF NOT EXISTS asset (
	id           UUID PRIMARY KEY,
	name         TEXT NOT NULL,
	kind         TEXT NOT NULL CHECK (kind IN ('image', 'video')),
	storage_path TEXT NOT NULL,
	url          TEXT NOT NULL,
	size_bytes   BIGINT NOT NULL DEFAULT 0,
	mime_type    TEXT NOT NULL DEFAULT '',
	used_in      TEXT[] NOT NULL DEFAULT '{}',
	uploaded_by  TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT asset_storage_path_key UNIQUE (storage_path)
);

CREATE INDEX IF NOT EXISTS asset_kind_created_at_idx ON asset (kind, created_at DESC);
CREATE INDEX IF NOT EXISTS asset_used_in_idx ON asset USING GIN (used_in);

CREATE TABLE IF NOT EXISTS entity_image (
	id           UUID PRIMARY KEY,
	entity_id    TEXT NOT NULL,
	asset_id     UUID REFERENCES asset (id) ON DELETE SET NULL,
	storage_path TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL DEFAULT '',
	is_cover     BOOLEAN NOT NULL DEFAULT false,
	position     INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS entity_image_entity_position_idx ON entity_image (entity_id, position);
CREATE UNIQUE INDEX IF NOT EXISTS entity_image_one_cover_idx ON entity_image (entity_id) WHERE is_cover;
`
