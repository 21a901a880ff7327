// Package device owns the stable per-installation identifier that tags every
// change a device authors.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// SettingKey is the settings key under which the identifier is persisted.
const SettingKey = "device_id"

// ErrEmptyID is returned when the id generator yields an empty string.
var ErrEmptyID = errors.New("device id generator returned empty id")

// Settings is the persisted key/value surface Identity needs.
type Settings interface {
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	SetSetting(ctx context.Context, key, value string) error
}

// Identity resolves and caches the device identifier.
type Identity struct {
	settings Settings
	newID    func() string

	mu     sync.Mutex
	cached string
}

// NewIdentity creates an Identity backed by settings.
func NewIdentity(settings Settings) *Identity {
	return &Identity{
		settings: settings,
		newID:    func() string { return uuid.New().String() },
	}
}

// GetOrCreate returns the persisted identifier, generating and persisting a
// fresh UUID on first use. Later calls return the same value.
func (i *Identity) GetOrCreate(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cached != "" {
		return i.cached, nil
	}

	id, ok, err := i.settings.GetSetting(ctx, SettingKey)
	if err != nil {
		return "", fmt.Errorf("read device id: %w", err)
	}
	if ok && id != "" {
		i.cached = id
		return id, nil
	}

	id, err = i.generate(ctx)
	if err != nil {
		return "", err
	}
	slog.Info("device id generated", "component", "device", "device_id", id)
	return id, nil
}

// Reset replaces the identifier with a fresh one. Only local data reset uses
// this; the old identifier is never reused.
func (i *Identity) Reset(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	previous := i.cached
	id, err := i.generate(ctx)
	if err != nil {
		return "", err
	}
	slog.Info("device id reset", "component", "device", "previous_device_id", previous, "device_id", id)
	return id, nil
}

func (i *Identity) generate(ctx context.Context) (string, error) {
	id := i.newID()
	if id == "" {
		return "", ErrEmptyID
	}
	if err := i.settings.SetSetting(ctx, SettingKey, id); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	i.cached = id
	return id, nil
}
