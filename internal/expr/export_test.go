// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import "github.com/google/uuid"

// SetUUIDSource replaces the generator of unique ids until restore is called.
func SetUUIDSource(f func() (uuid.UUID, error)) (restore func()) {
	old := newUUID
	newUUID = f
	return func() { newUUID = old }
}
