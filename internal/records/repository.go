package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/account"
	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned for missing, tombstoned or foreign records.
	ErrNotFound = store.ErrNotFound
	// ErrIDReused indicates an add targeted the id of a deleted record.
	ErrIDReused = errors.New("record id belongs to a deleted record")
	// ErrDuplicateID indicates an add targeted the id of a live record.
	ErrDuplicateID = errors.New("record id already exists")

	errMissingGateway  = errors.New("records: gateway is required")
	errMissingIdentity = errors.New("records: identity source is required")
	noOpLogger         = zap.NewNop()
)

// Gateway is the slice of store.Manager the repository writes through.
type Gateway interface {
	Get(ctx context.Context, collection store.Collection, id string) (store.Record, error)
	Scan(ctx context.Context, collection store.Collection, filter store.ScanFilter) ([]store.Record, error)
	PutPending(ctx context.Context, collection store.Collection, record store.Record) (store.OutboxEntry, error)
	Modify(ctx context.Context, collection store.Collection, id string, fn func(current store.Record) (store.Record, error)) (store.Record, error)
}

// IdentitySource resolves who owns a write.
type IdentitySource interface {
	Current(requireProfile bool) (account.Identity, error)
}

// Notifier is told when a collection gains pending changes.
type Notifier interface {
	Notify()
}

// Config wires a Repository.
type Config struct {
	Gateway       Gateway
	Collection    store.Collection
	Identity      IdentitySource
	ProfileScoped bool
	IDProvider    IDProvider
	Clock         func() time.Time
	Notifier      Notifier
	Logger        *zap.Logger
}

// Repository is the local-first CRUD surface for one collection. Writes land
// in the mirror with an outbox entry and return without touching the network.
type Repository[T any, PT Entity[T]] struct {
	gateway       Gateway
	collection    store.Collection
	identity      IdentitySource
	profileScoped bool
	ids           IDProvider
	clock         func() time.Time
	notifier      Notifier
	logger        *zap.Logger
}

// New constructs a Repository for T.
func New[T any, PT Entity[T]](cfg Config) (*Repository[T, PT], error) {
	if cfg.Gateway == nil {
		return nil, errMissingGateway
	}
	if cfg.Identity == nil {
		return nil, errMissingIdentity
	}
	if !cfg.Collection.Valid() {
		return nil, fmt.Errorf("records: %w: %q", store.ErrUnknownCollection, cfg.Collection)
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Repository[T, PT]{
		gateway:       cfg.Gateway,
		collection:    cfg.Collection,
		identity:      cfg.Identity,
		profileScoped: cfg.ProfileScoped,
		ids:           ids,
		clock:         clock,
		notifier:      cfg.Notifier,
		logger:        logger,
	}, nil
}

// Collection returns the collection the repository writes to.
func (r *Repository[T, PT]) Collection() store.Collection {
	return r.collection
}

// Add stamps ownership and timestamps on value and stores it as pending.
func (r *Repository[T, PT]) Add(ctx context.Context, value T) (T, error) {
	var zero T
	identity, err := r.identity.Current(r.profileScoped)
	if err != nil {
		return zero, err
	}
	if err := validate[T, PT](&value); err != nil {
		return zero, err
	}

	meta := PT(&value).Metadata()
	if meta.ID == "" {
		id, err := r.ids.NewID()
		if err != nil {
			return zero, fmt.Errorf("records: issue id: %w", err)
		}
		meta.ID = id
	} else {
		existing, err := r.gateway.Get(ctx, r.collection, meta.ID)
		switch {
		case err == nil && existing.IsTombstone():
			return zero, ErrIDReused
		case err == nil:
			return zero, ErrDuplicateID
		case !errors.Is(err, store.ErrNotFound):
			return zero, err
		}
	}

	now := r.now()
	meta.UserID = identity.UserID
	meta.AthleteID = identity.AthleteID
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	} else {
		meta.CreatedAt = meta.CreatedAt.UTC().Truncate(time.Millisecond)
	}
	meta.UpdatedAt = now

	record, err := Encode[T, PT](value)
	if err != nil {
		return zero, err
	}
	if _, err := r.gateway.PutPending(ctx, r.collection, record); err != nil {
		return zero, err
	}
	r.notify()
	return Decode[T, PT](record)
}

// Update merges patch into the stored record. Meta keys in patch are ignored.
func (r *Repository[T, PT]) Update(ctx context.Context, id string, patch store.Fields) (T, error) {
	var zero T
	identity, err := r.identity.Current(r.profileScoped)
	if err != nil {
		return zero, err
	}
	normalized, err := normalizeFields(patch)
	if err != nil {
		return zero, fmt.Errorf("records: encode patch: %w", err)
	}

	var updated T
	_, err = r.gateway.Modify(ctx, r.collection, id, func(current store.Record) (store.Record, error) {
		if !r.visible(current, identity) {
			return store.Record{}, ErrNotFound
		}
		fields := current.Fields.Clone()
		for key, value := range normalized {
			if IsMetaKey(key) {
				continue
			}
			fields[key] = value
		}
		next := current
		next.Fields = fields
		next.UpdatedAt = r.now()
		if !next.UpdatedAt.After(current.UpdatedAt) {
			next.UpdatedAt = current.UpdatedAt.Add(time.Millisecond)
		}

		value, err := Decode[T, PT](next)
		if err != nil {
			return store.Record{}, err
		}
		if err := validate[T, PT](&value); err != nil {
			return store.Record{}, err
		}
		updated = value
		return next, nil
	})
	if err != nil {
		return zero, err
	}
	r.notify()
	return updated, nil
}

// Delete replaces the record with a tombstone; the tombstone is what syncs.
func (r *Repository[T, PT]) Delete(ctx context.Context, id string) error {
	identity, err := r.identity.Current(r.profileScoped)
	if err != nil {
		return err
	}
	_, err = r.gateway.Modify(ctx, r.collection, id, func(current store.Record) (store.Record, error) {
		if !r.visible(current, identity) {
			return store.Record{}, ErrNotFound
		}
		deletedAt := r.now()
		if !deletedAt.After(current.UpdatedAt) {
			deletedAt = current.UpdatedAt.Add(time.Millisecond)
		}
		return store.NewTombstone(current, deletedAt), nil
	})
	if err != nil {
		return err
	}
	r.notify()
	return nil
}

// Get returns a live record owned by the current user and profile.
func (r *Repository[T, PT]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	identity, err := r.identity.Current(r.profileScoped)
	if err != nil {
		return zero, err
	}
	record, err := r.gateway.Get(ctx, r.collection, id)
	if err != nil {
		return zero, err
	}
	if !r.visible(record, identity) {
		return zero, ErrNotFound
	}
	return Decode[T, PT](record)
}

// List returns live records matching every predicate, oldest first.
func (r *Repository[T, PT]) List(ctx context.Context, predicates ...func(T) bool) ([]T, error) {
	identity, err := r.identity.Current(r.profileScoped)
	if err != nil {
		return nil, err
	}
	filter := store.ScanFilter{UserID: identity.UserID}
	if r.profileScoped {
		filter.AthleteID = identity.AthleteID
	}
	stored, err := r.gateway.Scan(ctx, r.collection, filter)
	if err != nil {
		return nil, err
	}

	values := make([]T, 0, len(stored))
	for _, record := range stored {
		if record.IsTombstone() {
			continue
		}
		value, err := Decode[T, PT](record)
		if err != nil {
			r.logger.Warn("skipping undecodable record",
				zap.String("collection", r.collection.String()),
				zap.String("record_id", record.ID),
				zap.Error(err))
			continue
		}
		if matchesAll(value, predicates) {
			values = append(values, value)
		}
	}
	return values, nil
}

func (r *Repository[T, PT]) visible(record store.Record, identity account.Identity) bool {
	if record.IsTombstone() || record.UserID != identity.UserID {
		return false
	}
	return !r.profileScoped || record.AthleteID == identity.AthleteID
}

func (r *Repository[T, PT]) notify() {
	if r.notifier != nil {
		r.notifier.Notify()
	}
}

func matchesAll[T any](value T, predicates []func(T) bool) bool {
	for _, predicate := range predicates {
		if predicate != nil && !predicate(value) {
			return false
		}
	}
	return true
}

type validator interface {
	Validate() error
}

func validate[T any, PT Entity[T]](value *T) error {
	if checked, ok := any(PT(value)).(validator); ok {
		return checked.Validate()
	}
	return nil
}

// now matches the millisecond precision the store persists.
func (r *Repository[T, PT]) now() time.Time {
	return r.clock().UTC().Truncate(time.Millisecond)
}
