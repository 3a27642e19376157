package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuery         = errors.New("invalid retrieval query")
	ErrInvalidInput         = errors.New("invalid input")
	ErrCaseNotFound         = errors.New("case not found")
	ErrIncompleteAssessment = errors.New("incomplete assessment")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrRateLimited          = errors.New("rate limited")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
