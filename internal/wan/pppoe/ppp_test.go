// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pppoe

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeCtrl_RoundTrips(t *testing.T) {
	opts := encodeOptions([]lcpOption{ipcpAddressOption(net.IPv4(203, 0, 113, 7).To4())})
	want := ctrlPacket{Code: codeConfigureRequest, Identifier: 42, Data: opts}

	got, err := decodeCtrl(encodeCtrl(want))
	require.NoError(t, err)
	require.Equal(t, want.Code, got.Code)
	require.Equal(t, want.Identifier, got.Identifier)
	require.Equal(t, want.Data, got.Data)
}

func TestDecodeCtrl_RejectsShortPacket(t *testing.T) {
	_, err := decodeCtrl([]byte{1, 2})
	require.Error(t, err)
}

func TestDecodeCtrl_RejectsLengthMismatch(t *testing.T) {
	b := encodeCtrl(ctrlPacket{Code: 1, Identifier: 1})
	b[3] = 0xff // claim a length far longer than the buffer
	_, err := decodeCtrl(b)
	require.Error(t, err)
}

func TestEncodeDecodeOptions_RoundTrips(t *testing.T) {
	opts := []lcpOption{
		{Type: 1, Value: []byte{0xaa}},
		{Type: ipcpOptIPAddress, Value: net.IPv4(192, 0, 2, 1).To4()},
	}
	decoded := decodeOptions(encodeOptions(opts))
	require.Len(t, decoded, 2)
	require.Equal(t, opts[0].Type, decoded[0].Type)
	require.Equal(t, opts[0].Value, decoded[0].Value)
	require.Equal(t, opts[1].Type, decoded[1].Type)
	require.Equal(t, opts[1].Value, decoded[1].Value)
}

func TestDecodeOptions_StopsOnTruncatedOption(t *testing.T) {
	// Length byte claims 10 bytes but only 3 remain.
	got := decodeOptions([]byte{5, 10, 0})
	require.Empty(t, got)
}

func TestIpcpAddressOption_FallsBackToZeroForNonV4(t *testing.T) {
	opt := ipcpAddressOption(net.ParseIP("2001:db8::1"))
	require.Equal(t, ipcpOptIPAddress, opt.Type)
	require.Equal(t, net.IPv4zero.To4(), net.IP(opt.Value))
}

func TestPapRequest_EncodesPeerIDAndPassword(t *testing.T) {
	raw := papRequest(7, "alice", "secret")
	pkt, err := decodeCtrl(raw)
	require.NoError(t, err)
	require.Equal(t, papAuthenticateRequest, pkt.Code)
	require.Equal(t, uint8(7), pkt.Identifier)

	require.Equal(t, uint8(len("alice")), pkt.Data[0])
	require.Equal(t, "alice", string(pkt.Data[1:1+len("alice")]))
	passLenOffset := 1 + len("alice")
	require.Equal(t, uint8(len("secret")), pkt.Data[passLenOffset])
	require.Equal(t, "secret", string(pkt.Data[passLenOffset+1:]))
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateDiscovery:  "discovery",
		StateLCP:        "lcp",
		StateAuth:       "auth",
		StateIPCP:       "ipcp",
		StateBound:      "bound",
		StateTerminated: "terminated",
		State(99):       "unknown",
	}
	for state, want := range cases {
		require.Equal(t, want, state.String())
	}
}
