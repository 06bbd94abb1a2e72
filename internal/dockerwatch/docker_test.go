// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dockerwatch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
)

func TestParseContainers(t *testing.T) {
	jsonResp := `[
		{
			"Id": "8dfafdbc3a40",
			"Names": ["/boring_feynman"],
			"Image": "ubuntu:latest",
			"State": "running",
			"Status": "Up 2 hours",
			"NetworkSettings": {
				"Networks": {
					"bridge": {
						"IPAddress": "172.17.0.2",
						"Gateway": "172.17.0.1",
						"MacAddress": "02:42:ac:11:00:02"
					}
				}
			},
			"Labels": {
				"com.docker.compose.project": "landscape"
			}
		}
	]`

	containers, err := parseContainers(strings.NewReader(jsonResp))
	require.NoError(t, err)
	require.Len(t, containers, 1)

	c := containers[0]
	require.Equal(t, "8dfafdbc3a40", c.ID)
	require.Equal(t, []string{"/boring_feynman"}, c.Names)
	require.Equal(t, "172.17.0.2", c.NetworkSettings.Networks["bridge"].IPAddress)
}

func TestToWanTargets_SkipsStoppedAndUnaddressed(t *testing.T) {
	containers := []Container{
		{
			State: "running",
			Names: []string{"/web"},
			NetworkSettings: NetworkSettings{
				Networks: map[string]NetworkEndpoint{
					"bridge": {IPAddress: "172.17.0.2", Gateway: "172.17.0.1", MacAddress: "02:42:ac:11:00:02"},
				},
			},
		},
		{
			State: "exited",
			Names: []string{"/stopped"},
			NetworkSettings: NetworkSettings{
				Networks: map[string]NetworkEndpoint{
					"bridge": {IPAddress: "172.17.0.3"},
				},
			},
		},
	}

	targets := toWanTargets(containers)
	require.Len(t, targets, 1)
	require.True(t, targets[0].IsDocker)
	require.Equal(t, flow.L3IPv4, targets[0].Proto)
	require.True(t, targets[0].HasMAC())
}

func TestMockClient_ListContainers(t *testing.T) {
	c := NewMockClient()
	containers, err := c.ListContainers(nil)
	require.NoError(t, err)
	require.NotEmpty(t, containers)
}
