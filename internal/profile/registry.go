package profile

import (
	"context"
	"sync"

	"github.com/nerrad567/pyde1-core/internal/domain"
)

// Logger is the narrow logging interface this package depends on.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Repository is the storage seam Registry depends on; internal/store
// implements it against the transactional SQLite store.
type Repository interface {
	InsertProfile(ctx context.Context, p domain.Profile) error
	GetProfile(ctx context.Context, id string) (domain.Profile, error)
	GetLastUploadedProfileID(ctx context.Context) (string, bool, error)
	SetLastUploadedProfileID(ctx context.Context, id string) error
}

// Registry is the Profile Registry component (spec §4.C). It wraps a
// Repository with an in-memory read-through cache of domain.Profile values;
// a Profile returned from the cache shares its Source slice with the cached
// copy.
type Registry struct {
	repo    Repository
	decoder Decoder
	clock   domain.Clock
	logger  Logger

	mu    sync.RWMutex
	cache map[string]domain.Profile
}

func NewRegistry(repo Repository, decoder Decoder, clock domain.Clock) *Registry {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Registry{
		repo:    repo,
		decoder: decoder,
		clock:   clock,
		logger:  noopLogger{},
		cache:   make(map[string]domain.Profile),
	}
}

func (r *Registry) SetLogger(l Logger) { r.logger = l }

// Insert decodes source, computes ID and Fingerprint, and stores the
// profile if no profile with that ID already exists (spec §4.C:
// "content-addressed, duplicate-safe"). It always updates the
// last-uploaded pointer, even on a duplicate, since a fresh upload of an
// already-known profile is still "the one just uploaded".
func (r *Registry) Insert(ctx context.Context, source []byte, format string, meta Metadata) (string, error) {
	frames, err := r.decoder.Decode(source, format)
	if err != nil {
		return "", err
	}
	p := buildProfile(source, format, frames, meta, r.clock.Now())

	if _, ok := r.lookupCache(p.ID); !ok {
		if _, err := r.Get(ctx, p.ID); err != nil {
			if err := r.repo.InsertProfile(ctx, p); err != nil {
				return "", err
			}
			r.mu.Lock()
			r.cache[p.ID] = p
			r.mu.Unlock()
		}
	}

	if err := r.repo.SetLastUploadedProfileID(ctx, p.ID); err != nil {
		r.logger.Warn("failed to persist last-uploaded profile id", "error", err)
	}
	return p.ID, nil
}

// SelectExisting marks an already-stored profile as the last-uploaded one
// without re-submitting its source bytes (spec §6 "PUT /de1/profile/id").
func (r *Registry) SelectExisting(ctx context.Context, id string) (domain.Profile, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return domain.Profile{}, err
	}
	if err := r.repo.SetLastUploadedProfileID(ctx, id); err != nil {
		r.logger.Warn("failed to persist last-uploaded profile id", "error", err)
	}
	return p, nil
}

func (r *Registry) lookupCache(id string) (domain.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.cache[id]
	return p, ok
}

// Get returns the profile with the given id, reading through to the
// repository on a cache miss.
func (r *Registry) Get(ctx context.Context, id string) (domain.Profile, error) {
	if p, ok := r.lookupCache(id); ok {
		return p, nil
	}
	p, err := r.repo.GetProfile(ctx, id)
	if err != nil {
		return domain.Profile{}, err
	}
	r.mu.Lock()
	r.cache[id] = p
	r.mu.Unlock()
	return p, nil
}

// LookupLastUploaded returns the id of the most recently uploaded profile,
// persisted across restarts (spec §4.C), and whether one exists at all.
func (r *Registry) LookupLastUploaded(ctx context.Context) (string, bool, error) {
	return r.repo.GetLastUploadedProfileID(ctx)
}
