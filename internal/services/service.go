// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package services is the contract for the module's singleton
// components — the ones run once for the whole process (DNSChain,
// GeoStore, the NAT reconciler) rather than once per interface like
// the lifecycle.Manager-supervised actors.
package services

import (
	"context"

	"github.com/zhaojindong1001/landscape-sub000/internal/lifecycle"
	"github.com/zhaojindong1001/landscape-sub000/internal/store"
)

// Service defines the standard lifecycle methods for a singleton
// component wired up from cmd/landscaped.
type Service interface {
	// Name returns the unique name of the service.
	Name() string

	// Reload applies a freshly loaded store snapshot. It returns true
	// if applying the change required a restart, and an error if one
	// occurred.
	Reload(db *store.Store) (bool, error)

	// Start starts the service.
	Start(ctx context.Context) error

	// Stop stops the service.
	Stop(ctx context.Context) error

	// Status returns the service's current lifecycle status.
	Status() lifecycle.Status
}
