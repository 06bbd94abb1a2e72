// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhcp4client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffFor_ScalesLinearlyFromBase(t *testing.T) {
	require.Equal(t, 4*time.Second, backoffFor(1))
	require.Equal(t, 8*time.Second, backoffFor(2))
	require.Equal(t, 16*time.Second, backoffFor(4))
}

func TestComputeLeaseTiming_ScenarioA(t *testing.T) {
	timing := computeLeaseTiming(7200*time.Second, durPtr(3600*time.Second), durPtr(6300*time.Second))
	require.Equal(t, 3600*time.Second, timing.Renew)
	require.Equal(t, 6300*time.Second, timing.Rebind)
	require.Equal(t, 7200*time.Second, timing.Lease)
}

func TestComputeLeaseTiming_FallsBackWhenOptionsAbsent(t *testing.T) {
	timing := computeLeaseTiming(8000*time.Second, nil, nil)
	require.Equal(t, 4000*time.Second, timing.Renew)
	require.Equal(t, 7000*time.Second, timing.Rebind)
}

func TestRenewingToWaitDelay_Is80PercentOfWindow(t *testing.T) {
	timing := leaseTiming{Renew: 3600 * time.Second, Rebind: 6300 * time.Second}
	delay := renewingToWaitDelay(timing)
	require.Equal(t, (6300-3600)*time.Second*4/5, delay)
}

func durPtr(d time.Duration) *time.Duration { return &d }
