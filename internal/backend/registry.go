// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package backend

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var registryMutex sync.RWMutex
var registry = map[string]*Backend{}

func init() {
	for _, b := range []*Backend{SQLite(), Postgres(), MySQL()} {
		registry[b.Name] = b
	}
	// dqlite speaks the SQLite dialect.
	dqlite := SQLite().Derive("dqlite")
	dqlite.Driver = "dqlite"
	registry[dqlite.Name] = dqlite
}

// Register adds a backend to the registry, replacing any backend of the same
// name.
func Register(b *Backend) error {
	if err := b.Validate(); err != nil {
		return err
	}
	registryMutex.Lock()
	defer registryMutex.Unlock()
	registry[b.Name] = b
	return nil
}

// Lookup returns the registered backend with the given name.
func Lookup(name string) (*Backend, error) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	b, ok := registry[strings.ToLower(name)]
	if !ok {
		b, ok = registry[name]
	}
	if !ok {
		names := make([]string, 0, len(registry))
		for n := range registry {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown backend %q, have: %s", name, strings.Join(names, ", "))
	}
	return b, nil
}

// Names returns the sorted names of every registered backend.
func Names() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
