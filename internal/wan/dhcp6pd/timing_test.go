// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhcp6pd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRenewWaitDelay_Is80PercentOfT2(t *testing.T) {
	timing := pdTiming{T2: 7200 * time.Second}
	require.Equal(t, 7200*time.Second*4/5, renewWaitDelay(timing))
}

func TestRebindAbandonDelay_MatchesLiteralFormula(t *testing.T) {
	want := time.Duration(float64(60*60*12)*1.6) * time.Second
	require.Equal(t, want, rebindAbandonDelay())
}

func TestRenewStateDuration_NetsOutToAbsoluteT2Fraction(t *testing.T) {
	timing := pdTiming{T1: 3600 * time.Second, T2: 7200 * time.Second}

	// Bound already burned T1 of elapsed time before Renew starts, so
	// Renew's own relative wait plus the T1 already spent must equal
	// renewWaitDelay(timing) — not renewWaitDelay(timing) on top of T1.
	got := timing.T1 + renewStateDuration(timing)
	require.Equal(t, renewWaitDelay(timing), got)

	// And WaitToRebind's own wait brings total elapsed to exactly T2.
	total := got + (timing.T2 - renewWaitDelay(timing))
	require.Equal(t, timing.T2, total)
}

func TestRenewStateDuration_ClampsAtZeroWhenT1ExceedsRenewWaitDelay(t *testing.T) {
	timing := pdTiming{T1: 7000 * time.Second, T2: 7200 * time.Second}
	require.Equal(t, time.Duration(0), renewStateDuration(timing))
}
