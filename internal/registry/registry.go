// Package registry provides deterministic, content-addressed instance
// creation. An instance's address is derived solely from its kind and
// configuration, so creating the same configuration twice yields the same
// address and the same instance: creation is idempotent and the address can
// be computed without creating anything.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/covenant-labs/covenant/internal/pay"
	"github.com/covenant-labs/covenant/internal/store"
)

// Address computes the content-addressed identity for a (kind, config)
// pair. The config must be canonical-marshalable: strings, integers, bools,
// arrays, and nested maps only.
func Address(kind string, config map[string]any) (string, error) {
	canonical, err := pay.MarshalCanonical(map[string]any{
		"kind":   kind,
		"config": config,
	})
	if err != nil {
		return "", fmt.Errorf("registry address: %w", err)
	}
	return pay.HashWithDomain(pay.DomainInstance, canonical), nil
}

// Registry tracks instances of one kind by their content address. With a
// store attached, registrations persist: a restarted process rebuilding the
// same configuration lands on the same address and finds the original
// registration row.
//
// Not safe for concurrent use; the registry follows the system's
// single-writer discipline.
type Registry[T any] struct {
	kind      string
	store     *store.Store
	instances map[string]T
	now       func() int64
}

// New creates a registry for one instance kind. st may be nil for a purely
// in-memory registry.
func New[T any](kind string, st *store.Store) *Registry[T] {
	return &Registry[T]{
		kind:      kind,
		store:     st,
		instances: map[string]T{},
		now:       func() int64 { return time.Now().Unix() },
	}
}

// Address computes the address a config would be registered under.
func (r *Registry[T]) Address(config map[string]any) (string, error) {
	return Address(r.kind, config)
}

// GetOrCreate returns the instance for a configuration, building it on first
// use. created reports whether this call wrote a new registration; a cached
// or previously persisted registration returns created=false. The built
// instance is identical either way, since it is a pure function of the
// configuration.
func (r *Registry[T]) GetOrCreate(ctx context.Context, config map[string]any, build func(address string) (T, error)) (address string, instance T, created bool, err error) {
	var zero T

	address, err = r.Address(config)
	if err != nil {
		return "", zero, false, err
	}

	if existing, ok := r.instances[address]; ok {
		return address, existing, false, nil
	}

	instance, err = build(address)
	if err != nil {
		return "", zero, false, err
	}

	if r.store != nil {
		canonical, err := pay.MarshalCanonical(config)
		if err != nil {
			return "", zero, false, fmt.Errorf("registry config: %w", err)
		}
		err = r.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
			var txErr error
			created, txErr = tx.Register(ctx, address, r.kind, string(canonical), r.now())
			return txErr
		})
		if err != nil {
			return "", zero, false, err
		}
	} else {
		created = true
	}

	r.instances[address] = instance
	return address, instance, created, nil
}

// Get returns a previously created instance.
func (r *Registry[T]) Get(address string) (T, bool) {
	instance, ok := r.instances[address]
	return instance, ok
}
