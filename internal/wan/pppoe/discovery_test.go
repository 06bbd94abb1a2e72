// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pppoe

import (
	"testing"

	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
)

func TestServiceTag_EncodesTypeLengthValue(t *testing.T) {
	tag := serviceTag("internet")
	require.Equal(t, byte(pppoeTagServiceName>>8), tag[0])
	require.Equal(t, byte(pppoeTagServiceName), tag[1])
	require.Equal(t, byte(0), tag[2])
	require.Equal(t, byte(len("internet")), tag[3])
	require.Equal(t, "internet", string(tag[4:]))
}

func TestServiceTag_EmptyNameYieldsZeroLengthValue(t *testing.T) {
	tag := serviceTag("")
	require.Len(t, tag, 4)
}

func TestHtons_SwapsByteOrder(t *testing.T) {
	require.Equal(t, uint16(0x63_88), htons(layers.EthernetTypePPPoEDiscovery))
}
