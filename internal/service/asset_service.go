package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nauuaf/image-service/internal/config"
	"github.com/nauuaf/image-service/internal/domain"
	"github.com/nauuaf/image-service/internal/identity"
	"github.com/nauuaf/image-service/internal/processing"
	"github.com/nauuaf/image-service/internal/repository"
)

// AssetService coordinates the object store, metadata index, and codec
// engine into the upload / list / get / delete / process operations.
type AssetService interface {
	Upload(ctx context.Context, in UploadInput) (*domain.AssetView, error)
	List(ctx context.Context, rawUserID string, page, pageSize int, typeFilter string) (*domain.AssetPage, error)
	Get(ctx context.Context, id, rawUserID string) (*domain.AssetView, error)
	GetPublic(ctx context.Context, id string) (*domain.AssetView, error)
	Inspect(ctx context.Context, id, rawUserID string) (*domain.AssetView, *processing.Info, error)
	FetchBytes(ctx context.Context, id string) ([]byte, string, error)
	Delete(ctx context.Context, id, rawUserID string) error
	Process(ctx context.Context, in ProcessInput) (*domain.AssetView, error)
}

type UploadInput struct {
	RawUserID         string
	Filename          string
	ContentType       string
	Data              []byte
	GenerateThumbnail bool
}

type ProcessInput struct {
	RawUserID  string
	AssetID    string
	Operations []string
	Format     string
	Quality    int
}

type assetService struct {
	repo  repository.AssetRepository
	store repository.ObjectStore
	proc  *processing.Processor
	cfg   *config.Config
	log   *zap.Logger
}

func NewAssetService(
	repo repository.AssetRepository,
	store repository.ObjectStore,
	proc *processing.Processor,
	cfg *config.Config,
	log *zap.Logger,
) AssetService {
	return &assetService{
		repo:  repo,
		store: store,
		proc:  proc,
		cfg:   cfg,
		log:   log,
	}
}

// Upload writes the blob first and the index row second: a failed index
// insert leaves an orphan blob for the reconciliation sweep, never a
// dangling row pointing at missing bytes.
func (s *assetService) Upload(ctx context.Context, in UploadInput) (*domain.AssetView, error) {
	if !strings.HasPrefix(in.ContentType, "image/") {
		return nil, domain.Validationf(domain.ErrInvalidContentType,
			"invalid file type: %s", in.ContentType)
	}
	if int64(len(in.Data)) > s.cfg.App.MaxUploadSize {
		return nil, domain.Validationf(domain.ErrPayloadTooLarge,
			"file size too large: %d bytes (max: %d bytes)", len(in.Data), s.cfg.App.MaxUploadSize)
	}

	ownerKey := identity.Resolve(in.RawUserID)

	// Dimension probe. A payload that does not decode still gets stored;
	// its dimensions simply stay absent. Over-limit dimensions are a hard
	// rejection.
	var width, height *int
	meta, err := s.proc.Validate(in.Data)
	switch {
	case err == nil:
		width, height = &meta.Width, &meta.Height
	case errors.Is(err, domain.ErrNotAnImage):
		s.log.Debug("Payload did not decode, storing without dimensions",
			zap.String("filename", in.Filename))
	default:
		return nil, err
	}

	asset := &domain.Asset{
		ID:           uuid.New().String(),
		OwnerKey:     ownerKey,
		OriginalName: in.Filename,
		ContentType:  in.ContentType,
		SizeBytes:    int64(len(in.Data)),
		Width:        width,
		Height:       height,
	}
	asset.StoredName = asset.ID + storedExt(in.Filename, in.ContentType)
	asset.ObjectKey = objectKey(ownerKey, asset.StoredName)

	tags := map[string]string{
		"uploaded-at": time.Now().UTC().Format(time.RFC3339),
		"file-size":   strconv.Itoa(len(in.Data)),
	}
	if err := s.store.Put(ctx, asset.ObjectKey, in.Data, in.ContentType, tags); err != nil {
		return nil, err
	}

	if s.cfg.App.GenerateThumbnails && in.GenerateThumbnail && width != nil {
		s.attachThumbnail(ctx, asset, in.Data)
	}

	if _, err := s.repo.Insert(ctx, asset); err != nil {
		// The blob stays behind as an orphan; the index row must never
		// exist without its bytes.
		s.log.Warn("Index insert failed after blob write, orphan blob left in store",
			zap.String("object_key", asset.ObjectKey),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("Asset uploaded",
		zap.String("id", asset.ID),
		zap.String("owner_key", ownerKey),
		zap.String("filename", in.Filename),
		zap.Int64("size", asset.SizeBytes))

	return s.view(asset), nil
}

// attachThumbnail is best-effort: a failure is logged and the upload goes on
// without a thumbnail.
func (s *assetService) attachThumbnail(ctx context.Context, asset *domain.Asset, data []byte) {
	thumb, err := s.proc.Thumbnail(data, s.cfg.App.ThumbnailSize)
	if err != nil {
		s.log.Warn("Thumbnail generation failed",
			zap.String("id", asset.ID),
			zap.Error(err))
		return
	}

	key := "thumbs/" + asset.OwnerKey + "/" + asset.StoredName
	if err := s.store.Put(ctx, key, thumb, asset.ContentType, nil); err != nil {
		s.log.Warn("Thumbnail upload failed",
			zap.String("id", asset.ID),
			zap.Error(err))
		return
	}
	asset.ThumbnailKey = &key
}

func (s *assetService) List(ctx context.Context, rawUserID string, page, pageSize int, typeFilter string) (*domain.AssetPage, error) {
	ownerKey := identity.Resolve(rawUserID)

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = s.cfg.App.DefaultPageSize
	}
	if pageSize > s.cfg.App.MaxPageSize {
		pageSize = s.cfg.App.MaxPageSize
	}

	assets, total, err := s.repo.ListByOwner(ctx, ownerKey, page, pageSize, typeFilter)
	if err != nil {
		return nil, err
	}

	views := make([]domain.AssetView, 0, len(assets))
	for i := range assets {
		views = append(views, *s.view(&assets[i]))
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &domain.AssetPage{
		Images:          views,
		CurrentPage:     page,
		TotalPages:      totalPages,
		TotalImages:     total,
		HasNextPage:     int64(page)*int64(pageSize) < total,
		HasPreviousPage: page > 1,
	}, nil
}

func (s *assetService) Get(ctx context.Context, id, rawUserID string) (*domain.AssetView, error) {
	asset, err := s.repo.GetByID(ctx, id, identity.Resolve(rawUserID))
	if err != nil {
		return nil, err
	}
	return s.view(asset), nil
}

func (s *assetService) GetPublic(ctx context.Context, id string) (*domain.AssetView, error) {
	asset, err := s.repo.GetByIDPublic(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(asset), nil
}

// Inspect returns the asset view plus details derived from the stored bytes.
// An undecodable payload yields a nil detail block, not an error, mirroring
// the upload path's treatment of such payloads.
func (s *assetService) Inspect(ctx context.Context, id, rawUserID string) (*domain.AssetView, *processing.Info, error) {
	asset, err := s.repo.GetByID(ctx, id, identity.Resolve(rawUserID))
	if err != nil {
		return nil, nil, err
	}

	data, err := s.store.Get(ctx, asset.ObjectKey)
	if err != nil {
		return nil, nil, err
	}

	info, err := s.proc.Info(data)
	if err != nil {
		if !errors.Is(err, domain.ErrNotAnImage) {
			return nil, nil, err
		}
		info = nil
	}
	return s.view(asset), info, nil
}

// FetchBytes serves the public view path: lookup by id alone, then the blob.
func (s *assetService) FetchBytes(ctx context.Context, id string) ([]byte, string, error) {
	asset, err := s.repo.GetByIDPublic(ctx, id)
	if err != nil {
		return nil, "", err
	}

	data, err := s.store.Get(ctx, asset.ObjectKey)
	if err != nil {
		return nil, "", err
	}
	return data, asset.ContentType, nil
}

// Delete tolerates object-store failure but not index failure: the index is
// authoritative for existence, so a blob that refuses to die is logged as
// leaked storage while the row is still removed.
func (s *assetService) Delete(ctx context.Context, id, rawUserID string) error {
	ownerKey := identity.Resolve(rawUserID)

	asset, err := s.repo.GetByID(ctx, id, ownerKey)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, asset.ObjectKey); err != nil {
		s.log.Error("Leaked storage: blob delete failed, removing index row anyway",
			zap.String("id", id),
			zap.String("object_key", asset.ObjectKey),
			zap.Error(err))
	}
	if asset.ThumbnailKey != nil {
		if err := s.store.Delete(ctx, *asset.ThumbnailKey); err != nil {
			s.log.Error("Leaked storage: thumbnail delete failed",
				zap.String("id", id),
				zap.String("thumbnail_key", *asset.ThumbnailKey),
				zap.Error(err))
		}
	}

	deleted, err := s.repo.DeleteByID(ctx, id, ownerKey)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return domain.ErrNotFound
	}

	s.log.Info("Asset deleted",
		zap.String("id", id),
		zap.String("owner_key", ownerKey))
	return nil
}

// Process is copy-on-transform: the result is stored as a new asset
// referencing the origin, and the source bytes are never touched. The whole
// operation list is validated before any pixel work, so an unknown entry
// aborts with nothing stored.
func (s *assetService) Process(ctx context.Context, in ProcessInput) (*domain.AssetView, error) {
	ownerKey := identity.Resolve(in.RawUserID)

	origin, err := s.repo.GetByID(ctx, in.AssetID, ownerKey)
	if err != nil {
		return nil, err
	}

	transforms, err := s.proc.ParseOperations(in.Operations)
	if err != nil {
		return nil, err
	}

	data, err := s.store.Get(ctx, origin.ObjectKey)
	if err != nil {
		return nil, err
	}

	for _, transform := range transforms {
		if data, err = transform(data); err != nil {
			return nil, err
		}
	}

	contentType := origin.ContentType
	if in.Format != "" {
		if data, err = s.proc.Convert(data, in.Format, in.Quality); err != nil {
			return nil, err
		}
		contentType = "image/" + normalizeFormat(in.Format)
	}

	var width, height *int
	if meta, err := s.proc.Validate(data); err == nil {
		width, height = &meta.Width, &meta.Height
	}

	derived := &domain.Asset{
		ID:           uuid.New().String(),
		OwnerKey:     ownerKey,
		OriginalName: origin.OriginalName,
		ContentType:  contentType,
		SizeBytes:    int64(len(data)),
		Width:        width,
		Height:       height,
		OriginID:     &origin.ID,
	}
	sourceName := origin.OriginalName
	if in.Format != "" {
		// The extension must follow the converted format, not the origin.
		sourceName = ""
	}
	derived.StoredName = derived.ID + storedExt(sourceName, contentType)
	derived.ObjectKey = objectKey(ownerKey, derived.StoredName)

	if err := s.store.Put(ctx, derived.ObjectKey, data, contentType, nil); err != nil {
		return nil, err
	}
	if _, err := s.repo.Insert(ctx, derived); err != nil {
		s.log.Warn("Index insert failed after blob write, orphan blob left in store",
			zap.String("object_key", derived.ObjectKey),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("Asset processed",
		zap.String("origin_id", origin.ID),
		zap.String("id", derived.ID),
		zap.Strings("operations", in.Operations))

	return s.view(derived), nil
}

func (s *assetService) view(asset *domain.Asset) *domain.AssetView {
	view := &domain.AssetView{
		ID:          asset.ID,
		Filename:    asset.OriginalName,
		Owner:       asset.OwnerKey,
		Size:        asset.SizeBytes,
		URL:         s.publicURL(asset.ObjectKey),
		CreatedAt:   asset.CreatedAt.UTC().Format(time.RFC3339),
		ContentType: asset.ContentType,
		Width:       asset.Width,
		Height:      asset.Height,
		OriginID:    asset.OriginID,
	}
	if asset.ThumbnailKey != nil {
		url := s.publicURL(*asset.ThumbnailKey)
		view.ThumbnailURL = &url
	}
	return view
}

func (s *assetService) publicURL(key string) string {
	if base := s.cfg.App.PublicBaseURL; base != "" {
		return strings.TrimSuffix(base, "/") + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.cfg.S3.BucketName, key)
}

func objectKey(ownerKey, storedName string) string {
	return "assets/" + ownerKey + "/" + storedName
}

// storedExt derives the storage filename extension, preferring the original
// filename and falling back to the declared content type.
func storedExt(filename, contentType string) string {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		return ext
	}
	switch normalizeFormat(strings.TrimPrefix(contentType, "image/")) {
	case "jpeg":
		return ".jpg"
	case "png":
		return ".png"
	case "gif":
		return ".gif"
	case "webp":
		return ".webp"
	case "bmp":
		return ".bmp"
	case "tiff":
		return ".tif"
	}
	return ".bin"
}

func normalizeFormat(format string) string {
	format = strings.ToLower(format)
	switch format {
	case "jpg":
		return "jpeg"
	case "tif":
		return "tiff"
	}
	return format
}
