package domain

import (
	"context"
)

// ImageRef is an image of a side's folder, Path relative to that folder
type ImageRef struct {
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// SettingsRepository stores small key/value settings such as the last opened folders
type SettingsRepository interface {
	// GetSetting returns the value of key and whether it was set
	GetSetting(ctx context.Context, key string) (string, bool, error)

	// SetSetting creates or replaces key
	SetSetting(ctx context.Context, key, value string) error
}

// ImageRepository keeps the image listing of every side
type ImageRepository interface {
	// SyncImages records images as the current listing of side
	SyncImages(ctx context.Context, side Side, images []ImageRef) error

	// CountImages returns how many images are in the current listing of side
	CountImages(ctx context.Context, side Side) (int64, error)
}
