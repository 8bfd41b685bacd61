package kvstore

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrUnavailable reports a storage area that is missing or disabled.
var ErrUnavailable = eris.New("kvstore: storage unavailable")

// Storage is a synchronous string key/value area.
type Storage interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value under key, replacing any existing value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Clear deletes every key in the area.
	Clear(ctx context.Context) error

	// Keys lists every key in the area.
	Keys(ctx context.Context) ([]string, error)
}

// Area names a storage namespace.
type Area string

const (
	// AreaLocal persists across process restarts.
	AreaLocal Area = "local"
	// AreaSession lives for the lifetime of the process.
	AreaSession Area = "session"
)

// ParseArea parses "local" or "session". An empty string is AreaLocal.
func ParseArea(s string) (Area, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(AreaLocal):
		return AreaLocal, nil
	case string(AreaSession):
		return AreaSession, nil
	default:
		return "", eris.Errorf("kvstore: unknown storage area %q", s)
	}
}

type disabled struct{}

// Disabled returns a Storage whose every call fails with ErrUnavailable.
func Disabled() Storage {
	return disabled{}
}

func (disabled) Get(context.Context, string) (string, bool, error) { return "", false, ErrUnavailable }
func (disabled) Set(context.Context, string, string) error         { return ErrUnavailable }
func (disabled) Remove(context.Context, string) error              { return ErrUnavailable }
func (disabled) Clear(context.Context) error                       { return ErrUnavailable }
func (disabled) Keys(context.Context) ([]string, error)            { return nil, ErrUnavailable }
