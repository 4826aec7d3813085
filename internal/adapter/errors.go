package adapter

import (
	"errors"
	"fmt"
	"os"

	"github.com/Ning0612/Sftpmirror/internal/domain"
)

// MapError converts OS-style errors to domain errors, keeping the original in the chain.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrAlreadyExists):
		return err
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	case errors.Is(err, os.ErrExist):
		return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}
