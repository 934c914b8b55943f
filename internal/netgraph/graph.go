// Package netgraph computes multi-hop SSH routes between machines using the
// network fingerprints collected in the machine-status store.
//
// The model: every machine can reach the public internet (weight 100). The
// internet can reach a machine only if that machine has a public SSH
// port-forward. Machines that observe the same external IP sit behind the
// same NAT and are presumed mutually reachable on their private addresses
// (weight 1). A route therefore prefers LAN hops and crosses the internet
// only when it must, and only through a machine that accepts inbound SSH.
package netgraph

import (
	"container/heap"
	"fmt"

	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

const (
	// WeightInternet is the cost of any edge that crosses the public
	// internet.
	WeightInternet = 100

	// WeightLAN is the cost of a hop between two machines behind the same
	// NAT.
	WeightLAN = 1
)

// DefaultSSHPort is used for LAN hops, which always target the peer's
// private address directly.
const DefaultSSHPort = 22

// Hop is one ssh jump: an address and the port to connect to.
type Hop struct {
	Addr string
	Port uint16
}

// internetNode is the reserved node index for the public internet; machines
// occupy indices 1..len(machines).
const internetNode = 0

type edge struct {
	to     int
	weight int
}

// inetRoute is the internet node's routing-table entry for a machine
// reachable from outside: its public address and forwarded SSH port.
type inetRoute struct {
	externalIP string
	port       uint16
}

// Graph is the directed weighted graph built from a machine-status
// snapshot. Build once per query; statuses go stale quickly.
type Graph struct {
	machines []protocol.MachineStatus
	index    map[identity.Hostname]int // hostname → node index
	adj      map[int][]edge
	inet     map[int]inetRoute // machine node → how the internet reaches it
}

// Build constructs the graph from a status snapshot. The graph has exactly
// len(statuses)+1 nodes: one per machine plus the internet node.
func Build(statuses map[identity.Hostname]protocol.MachineStatus) *Graph {
	g := &Graph{
		index: make(map[identity.Hostname]int, len(statuses)),
		adj:   make(map[int][]edge),
		inet:  make(map[int]inetRoute),
	}

	for hostname, status := range statuses {
		g.machines = append(g.machines, status)
		g.index[hostname] = len(g.machines) // node 0 is the internet
	}

	for hostname, status := range statuses {
		node := g.index[hostname]

		// Every machine can reach out to the internet.
		g.addEdge(node, internetNode, WeightInternet)

		// The internet reaches back only through a public port-forward.
		if status.SSH != nil {
			g.addEdge(internetNode, node, WeightInternet)
			g.inet[node] = inetRoute{externalIP: status.ExternalIP, port: *status.SSH}
		}

		// NAT peers: same observed external IP means same LAN.
		for otherName, other := range statuses {
			if otherName == hostname {
				continue
			}
			if other.ExternalIP != "" && other.ExternalIP == status.ExternalIP {
				g.addEdge(node, g.index[otherName], WeightLAN)
			}
		}
	}
	return g
}

func (g *Graph) addEdge(from, to, weight int) {
	g.adj[from] = append(g.adj[from], edge{to: to, weight: weight})
}

// NodeCount reports the number of graph nodes, including the internet node.
func (g *Graph) NodeCount() int { return len(g.machines) + 1 }

// FindPath computes the cheapest hop list from src to dst, or ok=false when
// dst is unreachable. A valid path never ends on the internet node: if no
// candidate exposes an SSH port-forward and the two machines do not share a
// NAT, there is no route.
func (g *Graph) FindPath(src, dst identity.Hostname) ([]Hop, bool, error) {
	from, ok := g.index[src]
	if !ok {
		return nil, false, fmt.Errorf("netgraph: unknown source host %q", src)
	}
	to, ok := g.index[dst]
	if !ok {
		return nil, false, fmt.Errorf("netgraph: unknown destination host %q", dst)
	}

	nodes := g.shortestPath(from, to)
	if nodes == nil {
		return nil, false, nil
	}

	hops, err := g.hops(nodes)
	if err != nil {
		return nil, false, err
	}
	return hops, true, nil
}

// shortestPath is Dijkstra over the adjacency lists. Returns the node
// sequence including both endpoints, or nil when unreachable.
func (g *Graph) shortestPath(from, to int) []int {
	const unreached = int(^uint(0) >> 1)

	dist := make([]int, g.NodeCount())
	prev := make([]int, g.NodeCount())
	for i := range dist {
		dist[i] = unreached
		prev[i] = -1
	}
	dist[from] = 0

	pq := &nodeQueue{{node: from, dist: 0}}
	for pq.Len() > 0 {
		item := heap.Pop(pq).(nodeItem)
		if item.dist > dist[item.node] {
			continue // stale queue entry
		}
		if item.node == to {
			break
		}
		for _, e := range g.adj[item.node] {
			if d := item.dist + e.weight; d < dist[e.to] {
				dist[e.to] = d
				prev[e.to] = item.node
				heap.Push(pq, nodeItem{node: e.to, dist: d})
			}
		}
	}

	if dist[to] == unreached {
		return nil
	}

	var path []int
	for node := to; node != -1; node = prev[node] {
		path = append(path, node)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// hops converts a node sequence into ssh jumps. Machine nodes become
// (private address, 22); the internet node becomes the next machine's
// (external IP, forwarded port), with that machine consumed in the same
// step.
func (g *Graph) hops(nodes []int) ([]Hop, error) {
	var hops []Hop
	for i := 1; i < len(nodes); i++ {
		node := nodes[i]
		if node == internetNode {
			if i == len(nodes)-1 {
				return nil, fmt.Errorf("netgraph: path ends on the internet node")
			}
			next := nodes[i+1]
			route, ok := g.inet[next]
			if !ok {
				return nil, fmt.Errorf("netgraph: internet edge to %q without a routing entry", g.machines[next-1].Hostname)
			}
			hops = append(hops, Hop{Addr: route.externalIP, Port: route.port})
			i++ // the machine behind the port-forward is consumed here
			continue
		}

		status := g.machines[node-1]
		if len(status.IpConnections) == 0 {
			return nil, fmt.Errorf("netgraph: host %q has no interface addresses", status.Hostname)
		}
		hops = append(hops, Hop{Addr: status.IpConnections[0].LocalIP, Port: DefaultSSHPort})
	}
	return hops, nil
}

// SSHArgs renders a hop list as ssh command arguments for the given user:
//
//	["-t", "user@hop1", "ssh", "-t", "user@hop2", "ssh", ..., "user@hopN"]
//
// with no trailing "ssh". Non-default ports get a "-p" flag before the
// address.
func SSHArgs(hops []Hop, user string) []string {
	var args []string
	for i, hop := range hops {
		if i > 0 {
			args = append(args, "ssh")
		}
		args = append(args, "-t")
		if hop.Port != DefaultSSHPort {
			args = append(args, "-p", fmt.Sprint(hop.Port))
		}
		args = append(args, fmt.Sprintf("%s@%s", user, hop.Addr))
	}
	return args
}

// nodeItem / nodeQueue implement the priority queue for shortestPath.
type nodeItem struct {
	node int
	dist int
}

type nodeQueue []nodeItem

func (q nodeQueue) Len() int            { return len(q) }
func (q nodeQueue) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q nodeQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x any)         { *q = append(*q, x.(nodeItem)) }
func (q *nodeQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
