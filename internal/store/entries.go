package store

import (
	"context"
	"errors"

	"github.com/ashureev/persona-lab/internal/auth"
)

// Fixed entry names mirrored from the web client's local storage.
const (
	APIKeyEntry = "openai-api-key"
)

// DeviceEntries binds a Repository's key-value entries to one device.
type DeviceEntries struct {
	repo     Repository
	deviceID string
}

// Entries returns the key-value view of one device.
func Entries(repo Repository, deviceID string) *DeviceEntries {
	return &DeviceEntries{repo: repo, deviceID: deviceID}
}

// Get returns an entry. Missing entries return auth.ErrEntryNotFound so the
// view satisfies auth.Persister.
func (d *DeviceEntries) Get(ctx context.Context, key string) (string, error) {
	v, err := d.repo.GetEntry(ctx, d.deviceID, key)
	if errors.Is(err, ErrNotFound) {
		return "", auth.ErrEntryNotFound
	}
	return v, err
}

// Put creates or replaces an entry.
func (d *DeviceEntries) Put(ctx context.Context, key, value string) error {
	return d.repo.PutEntry(ctx, d.deviceID, key, value)
}

// Delete removes an entry.
func (d *DeviceEntries) Delete(ctx context.Context, key string) error {
	return d.repo.DeleteEntry(ctx, d.deviceID, key)
}

var _ auth.Persister = (*DeviceEntries)(nil)
