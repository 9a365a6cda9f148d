package domain

import (
	"time"
)

// Asset is one stored image (original upload or processed derivative)
// together with its metadata row.
type Asset struct {
	ID           string    `json:"id"`
	OwnerKey     string    `json:"owner_key"`
	OriginalName string    `json:"original_name"`
	StoredName   string    `json:"stored_name"`
	ObjectKey    string    `json:"object_key"`
	ThumbnailKey *string   `json:"thumbnail_key,omitempty"`
	ContentType  string    `json:"content_type"`
	SizeBytes    int64     `json:"size_bytes"`
	Width        *int      `json:"width,omitempty"`
	Height       *int      `json:"height,omitempty"`
	OriginID     *string   `json:"origin_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AssetView is the outward representation of an Asset. The owner key is only
// exposed as the opaque "owner" field; storage keys never leave the service.
type AssetView struct {
	ID           string  `json:"id"`
	Filename     string  `json:"filename"`
	Owner        string  `json:"owner"`
	Size         int64   `json:"size"`
	URL          string  `json:"url"`
	ThumbnailURL *string `json:"thumbnail_url"`
	CreatedAt    string  `json:"created_at"`
	ContentType  string  `json:"content_type"`
	Width        *int    `json:"width,omitempty"`
	Height       *int    `json:"height,omitempty"`
	OriginID     *string `json:"origin_id,omitempty"`
}

// AssetPage is the pagination envelope returned by list queries.
type AssetPage struct {
	Images          []AssetView `json:"images"`
	CurrentPage     int         `json:"current_page"`
	TotalPages      int         `json:"total_pages"`
	TotalImages     int64       `json:"total_images"`
	HasNextPage     bool        `json:"has_next_page"`
	HasPreviousPage bool        `json:"has_previous_page"`
}
