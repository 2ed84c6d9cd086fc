package model

import "errors"

// ErrValidation marks input rejected before any write occurs: empty or
// malformed required fields. Store and engine layers wrap their own
// sentinels separately.
var ErrValidation = errors.New("validation failed")
