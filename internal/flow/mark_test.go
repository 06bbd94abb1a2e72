// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMark_RoundTrip(t *testing.T) {
	actions := []Action{ActionKeepGoing, ActionDirect, ActionDrop, ActionRedirect}
	for _, action := range actions {
		for _, reuse := range []bool{false, true} {
			for flowID := 0; flowID <= 255; flowID += 17 {
				m := NewMark(action, ID(flowID), reuse)
				got := MarkFromUint32(m.Uint32())
				require.Equal(t, m, got, "action=%v reuse=%v flowID=%d", action, reuse, flowID)
				require.Equal(t, action, got.Action())
				require.Equal(t, reuse, got.ReusePort())
				if action == ActionRedirect {
					require.Equal(t, ID(flowID), got.FlowID())
				} else {
					require.Equal(t, ID(0), got.FlowID())
				}
			}
		}
	}
}

func TestDNSMark_ForcesReusePort(t *testing.T) {
	m := DNSMark(ActionRedirect, 2)
	require.True(t, m.ReusePort())
	require.Equal(t, ActionRedirect, m.Action())
	require.Equal(t, ID(2), m.FlowID())
}
