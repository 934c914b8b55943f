// Package agent implements the machine-side runtime: the status collector
// and publisher, the persistent server link, and the command executor.
package agent

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/user"
	"strings"
	"time"

	psnet "github.com/shirou/gopsutil/v4/net"
	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

// Collector assembles the machine-status document the agent publishes.
type Collector struct {
	hostname identity.Hostname
	sshPort  *uint16
	logger   *zap.Logger

	// interfaces and httpGet are swapped out in tests.
	interfaces func(ctx context.Context) ([]psnet.InterfaceStat, error)
	httpGet    func(ctx context.Context, url string) (string, error)
}

// NewCollector creates a Collector. sshPort is the public port-forward when
// the machine is reachable from the internet; nil otherwise.
func NewCollector(hostname identity.Hostname, sshPort *uint16, logger *zap.Logger) *Collector {
	return &Collector{
		hostname:   hostname,
		sshPort:    sshPort,
		logger:     logger.Named("collector"),
		interfaces: func(ctx context.Context) ([]psnet.InterfaceStat, error) {
			return psnet.InterfacesWithContext(ctx)
		},
		httpGet:    httpGetBody,
	}
}

// Collect builds a full status snapshot. Interface enumeration failures are
// fatal; a missing external IP is fatal too, since the snapshot would be
// useless for routing. Gateway and ARP data are best effort.
func (c *Collector) Collect(ctx context.Context) (protocol.MachineStatus, error) {
	conns, err := c.ipConnections(ctx)
	if err != nil {
		return protocol.MachineStatus{}, err
	}

	externalIP, err := c.externalIP(ctx)
	if err != nil {
		return protocol.MachineStatus{}, err
	}

	status := protocol.MachineStatus{
		Hostname:      c.hostname,
		IpConnections: conns,
		ExternalIP:    externalIP,
		SSH:           c.sshPort,
	}

	if u, err := user.Current(); err == nil {
		status.DefaultUser = &u.Username
	} else {
		c.logger.Debug("could not resolve current user", zap.Error(err))
	}

	return status, nil
}

// ipConnections enumerates the usable interfaces and pairs each address with
// its default gateway and the gateway's MAC from the ARP cache.
func (c *Collector) ipConnections(ctx context.Context) ([]protocol.IpConnection, error) {
	ifaces, err := c.interfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent: failed to enumerate interfaces: %w", err)
	}

	gateways := c.defaultGateways()
	arp := c.arpTable()

	var conns []protocol.IpConnection
	for _, iface := range ifaces {
		if skipInterface(iface) {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil || ip.To4() == nil {
				continue
			}

			conn := protocol.IpConnection{LocalIP: ip.String()}
			if gw, ok := gateways[iface.Name]; ok {
				conn.GatewayIP = gw
				if mac, ok := arp[gw]; ok {
					conn.GatewayMac = &mac
				}
			}
			conns = append(conns, conn)
		}
	}
	return conns, nil
}

// skipInterface drops loopback, container and downed interfaces.
func skipInterface(iface psnet.InterfaceStat) bool {
	if iface.Name == "lo" ||
		strings.HasPrefix(iface.Name, "docker") ||
		strings.HasPrefix(iface.Name, "veth") {
		return true
	}
	up := false
	for _, flag := range iface.Flags {
		if flag == "up" {
			up = true
			break
		}
	}
	return !up
}

func (c *Collector) defaultGateways() map[string]string {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		c.logger.Debug("could not read routing table", zap.Error(err))
		return nil
	}
	defer f.Close()
	return ParseDefaultGateways(f)
}

func (c *Collector) arpTable() map[string]identity.MacAddr {
	f, err := os.Open("/proc/net/arp")
	if err != nil {
		c.logger.Debug("could not read arp cache", zap.Error(err))
		return nil
	}
	defer f.Close()
	return ParseARPTable(f)
}

// ParseDefaultGateways reads /proc/net/route format and returns the default
// gateway per interface. The kernel writes addresses as little-endian hex.
func ParseDefaultGateways(r io.Reader) map[string]string {
	gateways := make(map[string]string)

	scanner := bufio.NewScanner(r)
	scanner.Scan() // header

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		iface, dest, gw := fields[0], fields[1], fields[2]
		if dest != "00000000" {
			continue // not the default route
		}
		ip, ok := hexLEToIPv4(gw)
		if !ok || ip == "0.0.0.0" {
			continue
		}
		if _, seen := gateways[iface]; !seen {
			gateways[iface] = ip
		}
	}
	return gateways
}

func hexLEToIPv4(s string) (string, bool) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 4 {
		return "", false
	}
	return net.IPv4(raw[3], raw[2], raw[1], raw[0]).String(), true
}

// ParseARPTable reads /proc/net/arp format and maps IP to hardware address.
// Incomplete entries (all-zero MACs) are skipped.
func ParseARPTable(r io.Reader) map[string]identity.MacAddr {
	table := make(map[string]identity.MacAddr)

	scanner := bufio.NewScanner(r)
	scanner.Scan() // header

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		ip, hw := fields[0], fields[3]
		if hw == "00:00:00:00:00:00" {
			continue
		}
		mac, err := identity.ParseMacAddr(hw)
		if err != nil {
			continue
		}
		table[ip] = mac
	}
	return table
}

// externalIP resolves the machine's public address: a DNS query through
// OpenDNS first, then ifconfig.me over HTTPS.
func (c *Collector) externalIP(ctx context.Context) (string, error) {
	if ip, err := c.digExternalIP(ctx); err == nil {
		return ip, nil
	} else {
		c.logger.Debug("dig lookup failed, falling back to https", zap.Error(err))
	}

	body, err := c.httpGet(ctx, "https://ifconfig.me")
	if err != nil {
		return "", fmt.Errorf("agent: failed to resolve external ip: %w", err)
	}
	ip := strings.TrimSpace(body)
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("agent: ifconfig.me returned %q", ip)
	}
	return ip, nil
}

func (c *Collector) digExternalIP(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "dig", "+short", "myip.opendns.com", "@resolver1.opendns.com").Output()
	if err != nil {
		return "", fmt.Errorf("dig: %w", err)
	}
	ip := strings.TrimSpace(string(out))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("dig returned %q", ip)
	}
	return ip, nil
}

func httpGetBody(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
