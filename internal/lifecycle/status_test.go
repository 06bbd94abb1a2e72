// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusHandle_NeverSkipsStaring(t *testing.T) {
	h := NewStatusHandle("test")
	require.Equal(t, StatusStop, h.Status())

	h.Set(StatusRunning) // illegal: Stop -> Running directly
	require.Equal(t, StatusStop, h.Status(), "invalid transition must be ignored")

	h.Set(StatusStaring)
	require.Equal(t, StatusStaring, h.Status())

	h.Set(StatusRunning)
	require.Equal(t, StatusRunning, h.Status())
}

func TestStatusHandle_WaitStopTransitionsThroughStopping(t *testing.T) {
	h := NewStatusHandle("test")
	h.Set(StatusStaring)
	h.Set(StatusRunning)

	done := make(chan struct{})
	go func() {
		h.WaitStop()
		close(done)
	}()

	// WaitStop must itself push Running -> Stopping, then wait for an
	// external actor to observe Stopping and transition to Stop.
	for h.Status() != StatusStopping {
	}
	h.Set(StatusStop)
	<-done
	require.Equal(t, StatusStop, h.Status())
}

func TestStatusHandle_RestartGoesThroughStopFirst(t *testing.T) {
	h := NewStatusHandle("test")
	h.Set(StatusStaring)
	h.Set(StatusRunning)
	h.Set(StatusStopping)
	h.Set(StatusStop)
	h.Set(StatusStaring)
	require.Equal(t, StatusStaring, h.Status())
}
