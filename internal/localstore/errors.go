package localstore

import "errors"

// ErrNotFound is returned for operations requiring an existing entity:
// Update for every kind, and Delete for the strict kinds (tags, records).
var ErrNotFound = errors.New("entity not found")
