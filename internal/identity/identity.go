// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package identity

// InterfaceIdentity names a network interface the way the control
// plane keys its tables: by name (unique on the host for the lifetime
// of the interface) and by kernel ifindex (unique at any instant, but
// recycled once an interface is destroyed and a new one created).
type InterfaceIdentity struct {
	IfIndex   int
	IfaceName string
}

func (i InterfaceIdentity) String() string {
	return i.IfaceName
}
