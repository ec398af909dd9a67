package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements simpleasset.Catalog and simpleasset.ImageStore using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate creates the tables and indexes when they do not exist
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("migrate", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "storage_path") {
				return simpleasset.ErrDuplicateStoragePath
			}
			if strings.Contains(pgErr.ConstraintName, "cover") {
				return fmt.Errorf("%w: concurrent cover change", simpleasset.ErrCoverInvariant)
			}
			return fmt.Errorf("duplicate entry")
		case "23503": // foreign_key_violation
			return fmt.Errorf("referenced record not found")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

const assetColumns = `id, name, kind, storage_path, url, size_bytes, mime_type, used_in, uploaded_by, created_at, updated_at`

func scanAsset(row pgx.Row) (*simpleasset.Asset, error) {
	var a simpleasset.Asset
	if err := row.Scan(&a.ID, &a.Name, &a.Kind, &a.StoragePath, &a.URL, &a.SizeBytes,
		&a.MimeType, &a.UsedIn, &a.UploadedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if a.UsedIn == nil {
		a.UsedIn = []string{}
	}
	return &a, nil
}

// Asset operations

func (r *Repository) CreateAsset(ctx context.Context, asset *simpleasset.Asset) error {
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	now := time.Now().UTC()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	if asset.UpdatedAt.IsZero() {
		asset.UpdatedAt = asset.CreatedAt
	}
	if asset.UsedIn == nil {
		asset.UsedIn = []string{}
	}

	query := `
		INSERT INTO asset (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(ctx, query,
		asset.ID, asset.Name, asset.Kind, asset.StoragePath, asset.URL, asset.SizeBytes,
		asset.MimeType, asset.UsedIn, asset.UploadedBy, asset.CreatedAt, asset.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create asset", err)
	}
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*simpleasset.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM asset WHERE id = $1`

	asset, err := scanAsset(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleasset.ErrAssetNotFound
		}
		return nil, r.handlePostgresError("get asset", err)
	}
	return asset, nil
}

func (r *Repository) GetAssetByStoragePath(ctx context.Context, path string) (*simpleasset.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM asset WHERE storage_path = $1`

	asset, err := scanAsset(r.db.QueryRow(ctx, query, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleasset.ErrAssetNotFound
		}
		return nil, r.handlePostgresError("get asset by storage path", err)
	}
	return asset, nil
}

// UpdateAsset replaces the mutable fields. storage_path and url are never rewritten.
func (r *Repository) UpdateAsset(ctx context.Context, asset *simpleasset.Asset) error {
	if asset.UpdatedAt.IsZero() {
		asset.UpdatedAt = time.Now().UTC()
	}
	usedIn := asset.UsedIn
	if usedIn == nil {
		usedIn = []string{}
	}

	query := `
		UPDATE asset SET
			name = $2, kind = $3, size_bytes = $4, mime_type = $5,
			used_in = $6, uploaded_by = $7, updated_at = $8
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		asset.ID, asset.Name, asset.Kind, asset.SizeBytes, asset.MimeType,
		usedIn, asset.UploadedBy, asset.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update asset", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleasset.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM asset WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete asset", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleasset.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) ListAssets(ctx context.Context, filters simpleasset.ListFilters) (*simpleasset.AssetPage, error) {
	filters = filters.Normalize()
	where, args := buildAssetWhereClause(filters)

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM asset"+where, args...).Scan(&total); err != nil {
		return nil, r.handlePostgresError("count assets", err)
	}

	query := "SELECT " + assetColumns + " FROM asset" + where + buildAssetOrderClause(filters) +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filters.PageSize, filters.Offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("list assets", err)
	}
	defer rows.Close()

	assets := []*simpleasset.Asset{}
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan asset", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate asset rows", err)
	}

	return simpleasset.NewAssetPage(assets, total, filters), nil
}

// buildAssetWhereClause returns the WHERE clause (with a leading space) and its arguments
func buildAssetWhereClause(filters simpleasset.ListFilters) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if filters.Kind != nil {
		args = append(args, string(*filters.Kind))
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	if search := strings.TrimSpace(filters.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(name ILIKE $%d OR EXISTS (SELECT 1 FROM unnest(used_in) AS tag WHERE tag ILIKE $%d))", n, n))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func buildAssetOrderClause(filters simpleasset.ListFilters) string {
	column := "created_at"
	switch filters.SortBy {
	case simpleasset.SortByName:
		column = "lower(name)"
	case simpleasset.SortBySize:
		column = "size_bytes"
	}
	order := "DESC"
	if filters.SortAsc {
		order = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", column, order, order)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Entity image operations

const imageColumns = `id, entity_id, asset_id, storage_path, url, is_cover, position, created_at, updated_at`

func scanImage(row pgx.Row) (*simpleasset.AttachedImage, error) {
	var img simpleasset.AttachedImage
	if err := row.Scan(&img.ID, &img.EntityID, &img.AssetID, &img.StoragePath, &img.URL,
		&img.IsCover, &img.Position, &img.CreatedAt, &img.UpdatedAt); err != nil {
		return nil, err
	}
	return &img, nil
}

func (r *Repository) ListImages(ctx context.Context, entityID string) ([]*simpleasset.AttachedImage, error) {
	return r.queryImages(ctx, r.db, "list images",
		`SELECT `+imageColumns+` FROM entity_image WHERE entity_id = $1 ORDER BY position`, entityID)
}

func (r *Repository) queryImages(ctx context.Context, db DBTX, op, query string, args ...interface{}) ([]*simpleasset.AttachedImage, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError(op, err)
	}
	defer rows.Close()

	images := []*simpleasset.AttachedImage{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan image", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate image rows", err)
	}
	return images, nil
}

func (r *Repository) AttachImage(ctx context.Context, params simpleasset.AttachImageParams) (*simpleasset.AttachedImage, error) {
	if params.EntityID == "" {
		return nil, fmt.Errorf("entity id is required")
	}
	if params.StoragePath == "" && params.URL == "" {
		return nil, fmt.Errorf("storage path or url is required")
	}

	var img *simpleasset.AttachedImage
	err := r.withEntityLock(ctx, params.EntityID, func(tx pgx.Tx) error {
		if params.IsCover {
			if _, err := tx.Exec(ctx,
				`UPDATE entity_image SET is_cover = false, updated_at = now() WHERE entity_id = $1 AND is_cover`,
				params.EntityID); err != nil {
				return r.handlePostgresError("clear cover", err)
			}
		}

		query := `
			INSERT INTO entity_image (id, entity_id, asset_id, storage_path, url, is_cover, position, created_at, updated_at)
			SELECT $1, $2, $3, $4, $5, $6,
			       COALESCE((SELECT MAX(position) + 1 FROM entity_image WHERE entity_id = $2), 0),
			       now(), now()
			RETURNING ` + imageColumns

		var err error
		img, err = scanImage(tx.QueryRow(ctx, query,
			uuid.New(), params.EntityID, params.AssetID, params.StoragePath, params.URL, params.IsCover))
		if err != nil {
			return r.handlePostgresError("attach image", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// DeleteImage removes the image and promotes the lowest position image when
// the cover was removed, in one transaction.
func (r *Repository) DeleteImage(ctx context.Context, entityID string, imageID uuid.UUID) error {
	return r.withEntityLock(ctx, entityID, func(tx pgx.Tx) error {
		var wasCover bool
		err := tx.QueryRow(ctx,
			`DELETE FROM entity_image WHERE entity_id = $1 AND id = $2 RETURNING is_cover`,
			entityID, imageID).Scan(&wasCover)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return simpleasset.ErrImageNotFound
			}
			return r.handlePostgresError("delete image", err)
		}
		if !wasCover {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE entity_image SET is_cover = true, updated_at = now()
			WHERE id = (SELECT id FROM entity_image WHERE entity_id = $1 ORDER BY position LIMIT 1)`,
			entityID)
		if err != nil {
			return r.handlePostgresError("promote cover", err)
		}
		return nil
	})
}

func (r *Repository) SetCover(ctx context.Context, entityID string, imageID uuid.UUID) (*simpleasset.AttachedImage, error) {
	var img *simpleasset.AttachedImage
	err := r.withEntityLock(ctx, entityID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE entity_image SET is_cover = false, updated_at = now() WHERE entity_id = $1 AND is_cover AND id <> $2`,
			entityID, imageID); err != nil {
			return r.handlePostgresError("clear cover", err)
		}

		var err error
		img, err = scanImage(tx.QueryRow(ctx, `
			UPDATE entity_image SET is_cover = true, updated_at = now()
			WHERE entity_id = $1 AND id = $2
			RETURNING `+imageColumns, entityID, imageID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return simpleasset.ErrImageNotFound
			}
			return r.handlePostgresError("set cover", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (r *Repository) DeleteEntityImages(ctx context.Context, entityID string) ([]*simpleasset.AttachedImage, error) {
	return r.queryImages(ctx, r.db, "delete entity images",
		`DELETE FROM entity_image WHERE entity_id = $1 RETURNING `+imageColumns, entityID)
}

// withEntityLock runs fn in a transaction holding an advisory lock on the
// entity, so position and cover updates for one gallery never interleave.
func (r *Repository) withEntityLock(ctx context.Context, entityID string, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return r.handlePostgresError("begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entityID); err != nil {
		return r.handlePostgresError("lock entity", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return r.handlePostgresError("commit", err)
	}
	return nil
}
