// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dockerwatch polls the Docker Unix socket for running
// containers and turns their bridge-network endpoints into candidate
// WAN fast-path targets, so a container attached to a macvlan or
// bridge network can be selected as a flow's egress target the same
// way a physical WAN interface can.
package dockerwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
)

// Container is a partial Docker container object, focused on network
// details.
type Container struct {
	ID              string            `json:"Id"`
	Names           []string          `json:"Names"`
	Image           string            `json:"Image"`
	State           string            `json:"State"`
	Status          string            `json:"Status"`
	NetworkSettings NetworkSettings   `json:"NetworkSettings"`
	Labels          map[string]string `json:"Labels"`
}

type NetworkSettings struct {
	Networks map[string]NetworkEndpoint `json:"Networks"`
}

type NetworkEndpoint struct {
	IPAddress  string `json:"IPAddress"`
	Gateway    string `json:"Gateway"`
	MacAddress string `json:"MacAddress"`
	NetworkID  string `json:"NetworkID"`
	EndpointID string `json:"EndpointID"`
}

// Client is a lightweight client for the Docker Unix socket.
type Client struct {
	client     *http.Client
	socketPath string
	mockMode   bool
}

// NewClient creates a new client connected to the default socket.
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = "/var/run/docker.sock"
	}
	return &Client{
		socketPath: socketPath,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
					return net.Dial("unix", socketPath)
				},
			},
			Timeout: 5 * time.Second,
		},
	}
}

// NewMockClient creates a client that returns static dummy data, for
// running the watcher in environments without a Docker daemon.
func NewMockClient() *Client {
	return &Client{mockMode: true}
}

// ListContainers returns every running container.
func (c *Client) ListContainers(ctx context.Context) ([]Container, error) {
	if c.mockMode {
		return []Container{
			{
				ID:    "1234567890ab",
				Names: []string{"/web-server"},
				Image: "nginx:latest",
				State: "running",
				NetworkSettings: NetworkSettings{
					Networks: map[string]NetworkEndpoint{
						"bridge": {IPAddress: "172.17.0.2"},
					},
				},
			},
		}, nil
	}
	req, err := http.NewRequestWithContext(ctx, "GET", "http://unix/containers/json?all=0", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindUnavailable, "docker socket request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, flywallerrors.Errorf(flywallerrors.KindUnavailable, "docker socket returned %d", resp.StatusCode)
	}
	return parseContainers(resp.Body)
}

func parseContainers(r io.Reader) ([]Container, error) {
	var containers []Container
	if err := json.NewDecoder(r).Decode(&containers); err != nil {
		return nil, fmt.Errorf("decode containers response: %w", err)
	}
	return containers, nil
}

// Watcher polls the Docker socket on an interval and publishes the
// discovered endpoints as WanTarget candidates via onChange.
type Watcher struct {
	client   *Client
	interval time.Duration
	onChange func([]flow.WanTarget)
	log      *logging.Logger
}

// NewWatcher builds a Watcher polling every interval.
func NewWatcher(client *Client, interval time.Duration, onChange func([]flow.WanTarget)) *Watcher {
	return &Watcher{
		client:   client,
		interval: interval,
		onChange: onChange,
		log:      logging.WithComponent("dockerwatch"),
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	containers, err := w.client.ListContainers(ctx)
	if err != nil {
		w.log.WithError(err).Warn("list containers failed")
		return
	}
	targets := toWanTargets(containers)
	w.onChange(targets)
}

// toWanTargets flattens every running container's bridge/macvlan
// endpoints into WanTarget candidates. Containers without a usable
// IPv4 address on any network are skipped.
func toWanTargets(containers []Container) []flow.WanTarget {
	var out []flow.WanTarget
	for _, c := range containers {
		if c.State != "running" {
			continue
		}
		name := c.ID
		if len(c.Names) > 0 {
			name = c.Names[0]
		}
		for _, ep := range c.NetworkSettings.Networks {
			ip := net.ParseIP(ep.IPAddress)
			if ip == nil {
				continue
			}
			target := flow.WanTarget{
				IfaceName: name,
				Proto:     flow.L3IPv4,
				Weight:    1,
				IfaceIP:   ip,
				GatewayIP: net.ParseIP(ep.Gateway),
				IsDocker:  true,
			}
			if mac, err := identity.ParseMacAddr(ep.MacAddress); err == nil {
				target.MAC = &mac
			}
			out = append(out, target)
		}
	}
	return out
}
