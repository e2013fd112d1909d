package xbloom

import "errors"

// ErrInvalidParams is returned when EstimateParams is asked to size a filter
// for a non-positive expected-insertion count or an out-of-range false
// positive rate.
var ErrInvalidParams = errors.New("xbloom: invalid expected insertions or false positive rate")
