package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vultisig/sharekeeper/config"
)

// ErrNotFound is returned when the object at a location does not exist.
var ErrNotFound = errors.New("object not found")

// Store is a flat key/value object store. Keys are locations with the
// scheme prefix already removed.
type Store interface {
	Read(ctx context.Context, key string) ([]byte, error)
	// Write replaces the object at key. Readers never observe a partial write.
	Write(ctx context.Context, key string, data []byte) error
	// Rename moves an object, replacing any object at to.
	Rename(ctx context.Context, from, to string) error
	// Delete removes the object at key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

const (
	SchemeFile  = "file"
	SchemeS3    = "s3"
	SchemeRedis = "redis"
)

// ParseLocation splits a location into its scheme and key. Locations without
// a scheme are filesystem paths.
func ParseLocation(location string) (scheme, key string) {
	for _, s := range []string{SchemeS3, SchemeRedis, SchemeFile} {
		if rest, ok := strings.CutPrefix(location, s+"://"); ok {
			return s, rest
		}
	}
	return SchemeFile, location
}

// Join appends name to a location the way the location's scheme separates
// path elements.
func Join(location, name string) string {
	scheme, key := ParseLocation(location)
	if scheme == SchemeFile {
		joined := filepath.Join(key, name)
		if strings.HasPrefix(location, SchemeFile+"://") {
			return SchemeFile + "://" + joined
		}
		return joined
	}
	return scheme + "://" + path.Join(key, name)
}

// Router dispatches locations to the store registered for their scheme.
// Backends that need a network connection can be registered lazily so that
// purely local use never dials them.
type Router struct {
	mu        sync.Mutex
	stores    map[string]Store
	factories map[string]func() (Store, error)
}

func NewRouter(file Store) *Router {
	return &Router{
		stores:    map[string]Store{SchemeFile: file},
		factories: map[string]func() (Store, error){},
	}
}

// NewRouterFromConfig returns a router over the local filesystem, S3 when a
// bucket is configured, and redis.
func NewRouterFromConfig(cfg config.Config) *Router {
	r := NewRouter(NewFileStorage())
	if cfg.BlockStorage.Bucket != "" {
		r.RegisterLazy(SchemeS3, func() (Store, error) { return NewBlockStorage(cfg) })
	}
	r.RegisterLazy(SchemeRedis, func() (Store, error) { return NewRedisStorage(cfg) })
	return r
}

func (r *Router) Register(scheme string, s Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[scheme] = s
	delete(r.factories, scheme)
}

func (r *Router) RegisterLazy(scheme string, factory func() (Store, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stores, scheme)
	r.factories[scheme] = factory
}

func (r *Router) resolve(location string) (Store, string, error) {
	scheme, key := ParseLocation(location)
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[scheme]; ok {
		return s, key, nil
	}
	factory, ok := r.factories[scheme]
	if !ok {
		return nil, "", fmt.Errorf("no store configured for %s locations", scheme)
	}
	s, err := factory()
	if err != nil {
		return nil, "", fmt.Errorf("fail to open %s store, err: %w", scheme, err)
	}
	r.stores[scheme] = s
	delete(r.factories, scheme)
	return s, key, nil
}

func (r *Router) Read(ctx context.Context, location string) ([]byte, error) {
	s, key, err := r.resolve(location)
	if err != nil {
		return nil, err
	}
	return s.Read(ctx, key)
}

func (r *Router) Write(ctx context.Context, location string, data []byte) error {
	s, key, err := r.resolve(location)
	if err != nil {
		return err
	}
	return s.Write(ctx, key, data)
}

// Rename only works within one scheme.
func (r *Router) Rename(ctx context.Context, from, to string) error {
	fromScheme, _ := ParseLocation(from)
	toScheme, _ := ParseLocation(to)
	if fromScheme != toScheme {
		return fmt.Errorf("cannot rename %s location to %s location", fromScheme, toScheme)
	}
	s, fromKey, err := r.resolve(from)
	if err != nil {
		return err
	}
	_, toKey := ParseLocation(to)
	return s.Rename(ctx, fromKey, toKey)
}

func (r *Router) Delete(ctx context.Context, location string) error {
	s, key, err := r.resolve(location)
	if err != nil {
		return err
	}
	return s.Delete(ctx, key)
}

func (r *Router) Exists(ctx context.Context, location string) (bool, error) {
	s, key, err := r.resolve(location)
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, key)
}

// Close releases backends that hold connections.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, s := range r.stores {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
