package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nauuaf/image-service/internal/config"
	"github.com/nauuaf/image-service/internal/domain"
	"github.com/nauuaf/image-service/internal/processing"
)

// memAssetRepo is an in-memory metadata index implementing the same contract
// as the Postgres-backed repository.
type memAssetRepo struct {
	mu     sync.Mutex
	assets map[string]domain.Asset
	seq    int
}

func newMemAssetRepo() *memAssetRepo {
	return &memAssetRepo{assets: make(map[string]domain.Asset)}
}

func (m *memAssetRepo) Insert(_ context.Context, asset *domain.Asset) (*domain.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.assets {
		if existing.ObjectKey == asset.ObjectKey {
			return nil, fmt.Errorf("insert asset %s: %w", asset.ID, domain.ErrDuplicateObjectKey)
		}
	}
	if asset.CreatedAt.IsZero() {
		// Monotonic timestamps keep list ordering deterministic.
		m.seq++
		asset.CreatedAt = time.Unix(0, int64(m.seq)*int64(time.Millisecond)).UTC()
	}
	m.assets[asset.ID] = *asset
	return asset, nil
}

func (m *memAssetRepo) ListByOwner(_ context.Context, ownerKey string, page, pageSize int, typeFilter string) ([]domain.Asset, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var owned []domain.Asset
	for _, a := range m.assets {
		if a.OwnerKey != ownerKey {
			continue
		}
		if typeFilter != "" && !strings.Contains(strings.ToLower(a.ContentType), strings.ToLower(typeFilter)) {
			continue
		}
		owned = append(owned, a)
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].CreatedAt.After(owned[j].CreatedAt) })

	total := int64(len(owned))
	start := (page - 1) * pageSize
	if start >= len(owned) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(owned) {
		end = len(owned)
	}
	return owned[start:end], total, nil
}

func (m *memAssetRepo) GetByID(_ context.Context, id, ownerKey string) (*domain.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok || a.OwnerKey != ownerKey {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (m *memAssetRepo) GetByIDPublic(_ context.Context, id string) (*domain.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (m *memAssetRepo) DeleteByID(_ context.Context, id, ownerKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok || a.OwnerKey != ownerKey {
		return 0, nil
	}
	delete(m.assets, id)
	return 1, nil
}

// memObjectStore is an in-memory blob store.
type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte)}
}

func (m *memObjectStore) Put(_ context.Context, key string, data []byte, _ string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = bytes.Clone(data)
	return nil
}

func (m *memObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (m *memObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjectStore) BucketExists(context.Context) bool { return true }

func (m *memObjectStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func testConfig() *config.Config {
	return &config.Config{
		S3: config.S3Config{BucketName: "test-images"},
		App: config.AppConfig{
			MaxUploadSize:      10 * 1024 * 1024,
			MaxFilesPerUpload:  5,
			MaxPageSize:        50,
			DefaultPageSize:    10,
			GenerateThumbnails: true,
			ThumbnailSize:      200,
			JPEGQuality:        85,
		},
	}
}

func newTestService(t *testing.T) (AssetService, *memAssetRepo, *memObjectStore) {
	t.Helper()
	repo := newMemAssetRepo()
	store := newMemObjectStore()
	svc := NewAssetService(repo, store, processing.NewProcessor(zap.NewNop(), 85), testConfig(), zap.NewNop())
	return svc, repo, store
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 77, A: 255})
		}
	}
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func upload(t *testing.T, svc AssetService, owner, filename string, data []byte) *domain.AssetView {
	t.Helper()
	view, err := svc.Upload(context.Background(), UploadInput{
		RawUserID:   owner,
		Filename:    filename,
		ContentType: "image/png",
		Data:        data,
	})
	require.NoError(t, err)
	return view
}

func TestUploadThenGetRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	data := testPNG(t, 120, 90)

	uploaded := upload(t, svc, "alice", "cat.png", data)
	assert.NotEmpty(t, uploaded.ID)
	assert.Equal(t, int64(len(data)), uploaded.Size)
	require.NotNil(t, uploaded.Width)
	assert.Equal(t, 120, *uploaded.Width)

	got, err := svc.Get(context.Background(), uploaded.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, uploaded.ID, got.ID)
	assert.Equal(t, uploaded.Size, got.Size)
	assert.Equal(t, "image/png", got.ContentType)

	_, err = svc.Get(context.Background(), uploaded.ID, "mallory")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUploadRejectsNonImageContentType(t *testing.T) {
	svc, _, store := newTestService(t)

	_, err := svc.Upload(context.Background(), UploadInput{
		RawUserID:   "alice",
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Data:        []byte("hello"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidContentType)
	assert.Zero(t, store.count(), "nothing may reach the store on validation failure")
}

func TestUploadUndecodablePayloadStoredWithoutDimensions(t *testing.T) {
	svc, _, _ := newTestService(t)

	view, err := svc.Upload(context.Background(), UploadInput{
		RawUserID:   "alice",
		Filename:    "broken.png",
		ContentType: "image/png",
		Data:        []byte("not really a png"),
	})
	require.NoError(t, err)
	assert.Nil(t, view.Width)
	assert.Nil(t, view.Height)
	assert.Nil(t, view.ThumbnailURL)
}

func TestUploadGeneratesThumbnailWhenRequested(t *testing.T) {
	svc, _, store := newTestService(t)

	view, err := svc.Upload(context.Background(), UploadInput{
		RawUserID:         "alice",
		Filename:          "big.png",
		ContentType:       "image/png",
		Data:              testPNG(t, 400, 300),
		GenerateThumbnail: true,
	})
	require.NoError(t, err)
	require.NotNil(t, view.ThumbnailURL)
	assert.Equal(t, 2, store.count(), "original plus thumbnail")
}

func TestUploadSkipsThumbnailWhenNotRequested(t *testing.T) {
	svc, _, store := newTestService(t)

	view, err := svc.Upload(context.Background(), UploadInput{
		RawUserID:         "alice",
		Filename:          "big.png",
		ContentType:       "image/png",
		Data:              testPNG(t, 400, 300),
		GenerateThumbnail: false,
	})
	require.NoError(t, err)
	assert.Nil(t, view.ThumbnailURL)
	assert.Equal(t, 1, store.count())
}

func TestThumbnailsDisabledByConfig(t *testing.T) {
	repo := newMemAssetRepo()
	store := newMemObjectStore()
	cfg := testConfig()
	cfg.App.GenerateThumbnails = false
	svc := NewAssetService(repo, store, processing.NewProcessor(zap.NewNop(), 85), cfg, zap.NewNop())

	// The config gate wins even when the request asks for a thumbnail.
	view, err := svc.Upload(context.Background(), UploadInput{
		RawUserID:         "alice",
		Filename:          "big.png",
		ContentType:       "image/png",
		Data:              testPNG(t, 400, 300),
		GenerateThumbnail: true,
	})
	require.NoError(t, err)
	assert.Nil(t, view.ThumbnailURL)
	assert.Equal(t, 1, store.count())
}

func TestListPagination(t *testing.T) {
	svc, _, _ := newTestService(t)
	data := testPNG(t, 10, 10)

	for i := 0; i < 25; i++ {
		_, err := svc.Upload(context.Background(), UploadInput{
			RawUserID:   "alice",
			Filename:    fmt.Sprintf("img-%02d.png", i),
			ContentType: "image/png",
			Data:        data,
		})
		require.NoError(t, err)
	}

	page1, err := svc.List(context.Background(), "alice", 1, 10, "")
	require.NoError(t, err)
	assert.Len(t, page1.Images, 10)
	assert.Equal(t, 1, page1.CurrentPage)
	assert.Equal(t, 3, page1.TotalPages)
	assert.Equal(t, int64(25), page1.TotalImages)
	assert.True(t, page1.HasNextPage)
	assert.False(t, page1.HasPreviousPage)

	page3, err := svc.List(context.Background(), "alice", 3, 10, "")
	require.NoError(t, err)
	assert.Len(t, page3.Images, 5)
	assert.False(t, page3.HasNextPage)
	assert.True(t, page3.HasPreviousPage)

	// Another owner sees nothing.
	other, err := svc.List(context.Background(), "bob", 1, 10, "")
	require.NoError(t, err)
	assert.Empty(t, other.Images)
	assert.Equal(t, int64(0), other.TotalImages)
}

func TestListNewestFirst(t *testing.T) {
	svc, _, _ := newTestService(t)

	first := upload(t, svc, "alice", "first.png", testPNG(t, 10, 10))
	second := upload(t, svc, "alice", "second.png", testPNG(t, 10, 10))

	page, err := svc.List(context.Background(), "alice", 1, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Images, 2)
	assert.Equal(t, second.ID, page.Images[0].ID)
	assert.Equal(t, first.ID, page.Images[1].ID)
}

func TestDeleteRemovesBothTiers(t *testing.T) {
	svc, _, store := newTestService(t)

	view := upload(t, svc, "alice", "gone.png", testPNG(t, 20, 20))

	require.NoError(t, svc.Delete(context.Background(), view.ID, "alice"))
	assert.Zero(t, store.count())

	_, err := svc.Get(context.Background(), view.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Delete is idempotent: the second call reports NotFound, not an error class.
	err = svc.Delete(context.Background(), view.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteByNonOwnerIsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	view := upload(t, svc, "alice", "mine.png", testPNG(t, 20, 20))

	err := svc.Delete(context.Background(), view.ID, "mallory")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Still retrievable by the real owner.
	_, err = svc.Get(context.Background(), view.ID, "alice")
	assert.NoError(t, err)
}

func TestDeleteNonexistentIsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Delete(context.Background(), "no-such-id", "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProcessCreatesDerivedAsset(t *testing.T) {
	svc, _, store := newTestService(t)

	source := upload(t, svc, "alice", "photo.png", testPNG(t, 60, 40))
	sourceBytes, _, err := svc.FetchBytes(context.Background(), source.ID)
	require.NoError(t, err)

	derived, err := svc.Process(context.Background(), ProcessInput{
		RawUserID:  "alice",
		AssetID:    source.ID,
		Operations: []string{"grayscale", "rotate:90"},
	})
	require.NoError(t, err)
	require.NotNil(t, derived.OriginID)
	assert.Equal(t, source.ID, *derived.OriginID)
	assert.NotEqual(t, source.ID, derived.ID)

	derivedBytes, _, err := svc.FetchBytes(context.Background(), derived.ID)
	require.NoError(t, err)
	assert.NotEqual(t, sourceBytes, derivedBytes, "derivative content must differ")

	// Rotation by 90 swapped the dimensions.
	require.NotNil(t, derived.Width)
	require.NotNil(t, derived.Height)
	assert.Equal(t, 40, *derived.Width)
	assert.Equal(t, 60, *derived.Height)

	// Copy-on-transform: the source is untouched.
	after, _, err := svc.FetchBytes(context.Background(), source.ID)
	require.NoError(t, err)
	assert.Equal(t, sourceBytes, after)
	assert.Equal(t, 2, store.count(), "source and derivative")
}

func TestProcessUnknownOperationAbortsAllOrNothing(t *testing.T) {
	svc, _, store := newTestService(t)

	source := upload(t, svc, "alice", "photo.png", testPNG(t, 60, 40))
	before := store.count()

	_, err := svc.Process(context.Background(), ProcessInput{
		RawUserID:  "alice",
		AssetID:    source.ID,
		Operations: []string{"grayscale", "sparkle"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)
	assert.Contains(t, err.Error(), "sparkle")
	assert.Equal(t, before, store.count(), "no partial result may be stored")

	page, err := svc.List(context.Background(), "alice", 1, 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Images, 1)
}

func TestProcessByNonOwnerIsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	source := upload(t, svc, "alice", "photo.png", testPNG(t, 30, 30))

	_, err := svc.Process(context.Background(), ProcessInput{
		RawUserID:  "mallory",
		AssetID:    source.ID,
		Operations: []string{"grayscale"},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProcessWithOutputFormat(t *testing.T) {
	svc, _, _ := newTestService(t)

	source := upload(t, svc, "alice", "photo.png", testPNG(t, 50, 50))

	derived, err := svc.Process(context.Background(), ProcessInput{
		RawUserID:  "alice",
		AssetID:    source.ID,
		Operations: []string{"sepia"},
		Format:     "jpeg",
		Quality:    80,
	})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", derived.ContentType)

	data, contentType, err := svc.FetchBytes(context.Background(), derived.ID)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", contentType)

	_, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestInspectReturnsDetails(t *testing.T) {
	svc, _, _ := newTestService(t)

	view := upload(t, svc, "alice", "pic.png", testPNG(t, 100, 50))

	got, info, err := svc.Inspect(context.Background(), view.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, view.ID, got.ID)
	require.NotNil(t, info)
	assert.Equal(t, 100, info.Width)
	assert.Equal(t, 50, info.Height)
	assert.InDelta(t, 2.0, info.AspectRatio, 0.01)

	// Ownership applies to info like any other authed read.
	_, _, err = svc.Inspect(context.Background(), view.ID, "mallory")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInspectUndecodablePayloadHasNilDetails(t *testing.T) {
	svc, _, _ := newTestService(t)

	view, err := svc.Upload(context.Background(), UploadInput{
		RawUserID:   "alice",
		Filename:    "blob.png",
		ContentType: "image/png",
		Data:        []byte("opaque bytes"),
	})
	require.NoError(t, err)

	got, info, err := svc.Inspect(context.Background(), view.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, view.ID, got.ID)
	assert.Nil(t, info)
}

func TestFetchBytesPublicNeedsNoOwner(t *testing.T) {
	svc, _, _ := newTestService(t)
	data := testPNG(t, 25, 25)

	view := upload(t, svc, "alice", "shared.png", data)

	got, contentType, err := svc.FetchBytes(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "image/png", contentType)

	_, _, err = svc.FetchBytes(context.Background(), "missing-id")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetPublicHidesNothingButWritesStayOwned(t *testing.T) {
	svc, _, _ := newTestService(t)

	view := upload(t, svc, "alice", "shared.png", testPNG(t, 25, 25))

	public, err := svc.GetPublic(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, view.ID, public.ID)

	// The public read path never grants delete rights.
	err = svc.Delete(context.Background(), view.ID, "anonymous")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUploadFailedIndexInsertReportsFailure(t *testing.T) {
	repo := newMemAssetRepo()
	store := newMemObjectStore()
	svc := NewAssetService(repo, store, processing.NewProcessor(zap.NewNop(), 85), testConfig(), zap.NewNop())

	first := upload(t, svc, "alice", "orig.png", testPNG(t, 10, 10))

	// Force a duplicate object key by reusing the stored row.
	existing, err := repo.GetByIDPublic(context.Background(), first.ID)
	require.NoError(t, err)
	dup := *existing
	dup.ID = "other-id"
	_, err = repo.Insert(context.Background(), &dup)
	assert.ErrorIs(t, err, domain.ErrDuplicateObjectKey)
}
