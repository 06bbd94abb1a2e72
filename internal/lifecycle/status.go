// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package lifecycle is the generic per-key actor supervisor every
// per-interface, per-service-kind actor (DHCP clients/servers, the RA
// announcer, PPPoE, the DNS chain) is spawned and restarted through.
package lifecycle

import (
	"sync"

	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
)

// Status is a finite-state value an actor's handle moves through:
// Stop -> Staring -> Running -> Stopping -> Stop, plus Stop -> Staring
// on restart. Staring may also go straight to Stopping or Stop, and
// Running straight to Stop; no other transition is legal.
type Status int

const (
	StatusStop Status = iota
	StatusStaring
	StatusRunning
	StatusStopping
)

func (s Status) String() string {
	switch s {
	case StatusStop:
		return "stop"
	case StatusStaring:
		return "staring"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var allowed = map[Status]map[Status]bool{
	StatusStop:     {StatusStaring: true},
	StatusStaring:  {StatusRunning: true, StatusStopping: true, StatusStop: true},
	StatusRunning:  {StatusStopping: true, StatusStop: true},
	StatusStopping: {StatusStop: true},
}

// StatusHandle is the observable status cell one actor instance owns
// for its lifetime. WaitStop/WaitStart block on it without polling.
type StatusHandle struct {
	mu      sync.Mutex
	status  Status
	changed chan struct{}
	name    string
}

// NewStatusHandle creates a handle pinned at StatusStop, the state
// every actor instance starts from before its Starter transitions it to
// Staring.
func NewStatusHandle(name string) *StatusHandle {
	return &StatusHandle{status: StatusStop, changed: make(chan struct{}), name: name}
}

// Status returns the current state.
func (h *StatusHandle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Set attempts a transition to target. An illegal transition is ignored
// and logged rather than returned as an error — per the design, invalid
// transitions are a programming bug in the actor, not a caller-facing
// failure.
func (h *StatusHandle) Set(target Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == target {
		return
	}
	if !allowed[h.status][target] {
		logging.WithComponent("lifecycle").Warn("ignoring invalid service status transition",
			"service", h.name, "from", h.status.String(), "to", target.String())
		return
	}
	h.status = target
	close(h.changed)
	h.changed = make(chan struct{})
}

// WaitStop requests a graceful stop (transitioning Running or Staring
// to Stopping when legal) and blocks until Stop is observed.
func (h *StatusHandle) WaitStop() {
	h.mu.Lock()
	if h.status == StatusRunning || h.status == StatusStaring {
		h.status = StatusStopping
		close(h.changed)
		h.changed = make(chan struct{})
	}
	for h.status != StatusStop {
		ch := h.changed
		h.mu.Unlock()
		<-ch
		h.mu.Lock()
	}
	h.mu.Unlock()
}

// WaitStart blocks while the handle is in Staring.
func (h *StatusHandle) WaitStart() {
	h.mu.Lock()
	for h.status == StatusStaring {
		ch := h.changed
		h.mu.Unlock()
		<-ch
		h.mu.Lock()
	}
	h.mu.Unlock()
}
