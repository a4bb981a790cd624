package usecase

import (
	"errors"
	"fmt"
)

var (
	ErrFetch      = errors.New("fetch error")
	ErrStore      = errors.New("store error")
	ErrRepository = errors.New("repository error")
)

func wrapFetch(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFetch, err)
}

func wrapStore(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}

func wrapRepo(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRepository, err)
}
