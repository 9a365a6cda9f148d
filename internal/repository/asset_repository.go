package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/nauuaf/image-service/internal/domain"
)

// AssetRepository is the durable metadata index: the single source of truth
// for "does this asset exist and who owns it".
type AssetRepository interface {
	Insert(ctx context.Context, asset *domain.Asset) (*domain.Asset, error)
	ListByOwner(ctx context.Context, ownerKey string, page, pageSize int, typeFilter string) ([]domain.Asset, int64, error)
	GetByID(ctx context.Context, id, ownerKey string) (*domain.Asset, error)
	GetByIDPublic(ctx context.Context, id string) (*domain.Asset, error)
	DeleteByID(ctx context.Context, id, ownerKey string) (int64, error)
}

// db is the subset of pgxpool.Pool the repository uses; keeping it narrow
// makes the repository testable against a stub.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type assetRepository struct {
	db  db
	log *zap.Logger
}

func NewAssetRepository(db db, log *zap.Logger) AssetRepository {
	return &assetRepository{db: db, log: log}
}

const assetColumns = `id, owner_key, original_name, stored_name, object_key,
	thumbnail_key, content_type, size_bytes, width, height, origin_id, created_at`

func (r *assetRepository) Insert(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	query := `
		INSERT INTO assets (id, owner_key, original_name, stored_name, object_key,
			thumbnail_key, content_type, size_bytes, width, height, origin_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	asset.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(ctx, query,
		asset.ID,
		asset.OwnerKey,
		asset.OriginalName,
		asset.StoredName,
		asset.ObjectKey,
		asset.ThumbnailKey,
		asset.ContentType,
		asset.SizeBytes,
		asset.Width,
		asset.Height,
		asset.OriginID,
		asset.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return nil, fmt.Errorf("insert asset %s: %w", asset.ID, domain.ErrDuplicateObjectKey)
		}
		r.log.Error("Failed to insert asset",
			zap.String("id", asset.ID),
			zap.Error(err))
		return nil, fmt.Errorf("insert asset %s: %w", asset.ID, err)
	}

	return asset, nil
}

func (r *assetRepository) ListByOwner(ctx context.Context, ownerKey string, page, pageSize int, typeFilter string) ([]domain.Asset, int64, error) {
	countQuery := `SELECT COUNT(*) FROM assets WHERE owner_key = $1`
	listQuery := `
		SELECT ` + assetColumns + `
		FROM assets
		WHERE owner_key = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	countArgs := []any{ownerKey}
	listArgs := []any{ownerKey, pageSize, (page - 1) * pageSize}

	if typeFilter != "" {
		countQuery = `SELECT COUNT(*) FROM assets WHERE owner_key = $1 AND content_type ILIKE '%' || $2 || '%'`
		listQuery = `
			SELECT ` + assetColumns + `
			FROM assets
			WHERE owner_key = $1 AND content_type ILIKE '%' || $4 || '%'
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`
		countArgs = append(countArgs, typeFilter)
		listArgs = append(listArgs, typeFilter)
	}

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		r.log.Error("Failed to count assets", zap.String("owner_key", ownerKey), zap.Error(err))
		return nil, 0, fmt.Errorf("count assets: %w", err)
	}

	rows, err := r.db.Query(ctx, listQuery, listArgs...)
	if err != nil {
		r.log.Error("Failed to list assets", zap.String("owner_key", ownerKey), zap.Error(err))
		return nil, 0, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		var a domain.Asset
		if err := scanAsset(rows, &a); err != nil {
			return nil, 0, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list assets: %w", err)
	}

	return assets, total, nil
}

// GetByID enforces ownership inside the query so a miss and a foreign row are
// indistinguishable to the caller.
func (r *assetRepository) GetByID(ctx context.Context, id, ownerKey string) (*domain.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE id = $1 AND owner_key = $2`
	return r.getOne(ctx, query, id, ownerKey)
}

func (r *assetRepository) GetByIDPublic(ctx context.Context, id string) (*domain.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *assetRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Asset, error) {
	var a domain.Asset
	err := scanAsset(r.db.QueryRow(ctx, query, args...), &a)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.log.Error("Failed to get asset", zap.Error(err))
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return &a, nil
}

func (r *assetRepository) DeleteByID(ctx context.Context, id, ownerKey string) (int64, error) {
	query := `DELETE FROM assets WHERE id = $1 AND owner_key = $2`

	tag, err := r.db.Exec(ctx, query, id, ownerKey)
	if err != nil {
		r.log.Error("Failed to delete asset",
			zap.String("id", id),
			zap.Error(err))
		return 0, fmt.Errorf("delete asset %s: %w", id, err)
	}

	return tag.RowsAffected(), nil
}

func scanAsset(row pgx.Row, a *domain.Asset) error {
	return row.Scan(
		&a.ID,
		&a.OwnerKey,
		&a.OriginalName,
		&a.StoredName,
		&a.ObjectKey,
		&a.ThumbnailKey,
		&a.ContentType,
		&a.SizeBytes,
		&a.Width,
		&a.Height,
		&a.OriginID,
		&a.CreatedAt,
	)
}
