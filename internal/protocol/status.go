package protocol

import (
	"time"

	"github.com/fleetlink-io/fleetlink/internal/identity"
)

// IpConnection is one network interface's view of its LAN: the interface
// address, the gateway it routes through, and the gateway's hardware address
// when the ARP cache had it.
type IpConnection struct {
	LocalIP    string            `json:"local_ip"`
	GatewayIP  string            `json:"gateway_ip"`
	GatewayMac *identity.MacAddr `json:"gateway_mac,omitempty"`
}

// MachineStatus is the network fingerprint an agent publishes once a minute.
// SSH is the public listening port when the host is reachable from the
// internet via a port-forward; nil means the host can only be reached
// through a NAT peer. LastHeartbeat is stamped by the server on upsert.
type MachineStatus struct {
	Hostname      identity.Hostname `json:"hostname"`
	IpConnections []IpConnection    `json:"ip_connections"`
	ExternalIP    string            `json:"external_ip"`
	SSH           *uint16           `json:"ssh,omitempty"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	DefaultUser   *string           `json:"default_user,omitempty"`
}
