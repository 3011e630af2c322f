// Package location publishes the technician's position while a repair is
// EN_ROUTE and estimates arrival for the customer side.
package location

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/model"
)

// Permission is the device location permission as the app sees it.
type Permission int

const (
	PermissionPrompt Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	}
	return "prompt"
}

// PermissionState is the prompt → granted | denied machine. A denial can
// be retried, which returns to prompt.
type PermissionState struct {
	mu sync.Mutex
	p  Permission
}

// Current returns the current permission.
func (s *PermissionState) Current() Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p
}

// Resolve records the answer to a prompt.
func (s *PermissionState) Resolve(granted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p != PermissionPrompt {
		return errors.Errorf("location: permission already %s", s.p)
	}
	if granted {
		s.p = PermissionGranted
	} else {
		s.p = PermissionDenied
	}
	return nil
}

// Retry moves a denied permission back to prompt.
func (s *PermissionState) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p != PermissionDenied {
		return errors.Errorf("location: retry from %s", s.p)
	}
	s.p = PermissionPrompt
	return nil
}

// Check returns ErrPermissionDenied unless permission is granted.
func (s *PermissionState) Check() error {
	if p := s.Current(); p != PermissionGranted {
		return errors.Wrapf(model.ErrPermissionDenied, "location permission is %s", p)
	}
	return nil
}
