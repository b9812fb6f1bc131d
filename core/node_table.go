package core

import (
	"fmt"
	"net"
	"strconv"

	"github.com/francistor/acnetd/acnet"
)

// Entry in the nodes configuration
type NodeEntry struct {
	Name string

	// As a string, to allow hex notation, e.g. "0x0a06"
	TrunkNode string

	// IP address of the node. May be a multicast address
	Address string

	// Zero means the port of the local server
	Port int
}

// Table of known nodes, with lookup by trunk/node and by name
type NodeTable struct {
	Nodes []NodeEntry

	byTrunkNode map[acnet.TrunkNode]int
	byName      map[acnet.NodeName]acnet.TrunkNode
	addresses   []net.IP
}

// Creates a node table from its entries
func NewNodeTable(entries []NodeEntry) (NodeTable, error) {
	nt := NodeTable{Nodes: entries}
	err := nt.initialize()
	return nt, err
}

// Builds the lookup maps
func (nt *NodeTable) initialize() error {
	nt.byTrunkNode = make(map[acnet.TrunkNode]int, len(nt.Nodes))
	nt.byName = make(map[acnet.NodeName]acnet.TrunkNode, len(nt.Nodes))
	nt.addresses = make([]net.IP, len(nt.Nodes))

	for i, node := range nt.Nodes {
		tn, err := strconv.ParseUint(node.TrunkNode, 0, 16)
		if err != nil {
			return fmt.Errorf("bad trunk node %s for %s: %w", node.TrunkNode, node.Name, err)
		}
		ip := net.ParseIP(node.Address)
		if ip == nil {
			return fmt.Errorf("bad address %s for %s", node.Address, node.Name)
		}
		if _, found := nt.byTrunkNode[acnet.TrunkNode(tn)]; found {
			return fmt.Errorf("duplicated trunk node %s", node.TrunkNode)
		}
		nt.byTrunkNode[acnet.TrunkNode(tn)] = i
		nt.byName[acnet.NewNodeName(node.Name)] = acnet.TrunkNode(tn)
		nt.addresses[i] = ip
	}

	return nil
}

// Returns the IP address of the node
func (nt NodeTable) Address(node acnet.TrunkNode) (net.IP, bool) {
	if i, found := nt.byTrunkNode[node]; found {
		return nt.addresses[i], true
	}
	return nil, false
}

// Returns the UDP address of the node, using the specified port if the node
// does not define one
func (nt NodeTable) UDPAddr(node acnet.TrunkNode, defaultPort int) (*net.UDPAddr, bool) {
	i, found := nt.byTrunkNode[node]
	if !found {
		return nil, false
	}
	port := nt.Nodes[i].Port
	if port == 0 {
		port = defaultPort
	}
	return &net.UDPAddr{IP: nt.addresses[i], Port: port}, true
}

// Returns the name of the node
func (nt NodeTable) NodeName(node acnet.TrunkNode) (acnet.NodeName, bool) {
	if i, found := nt.byTrunkNode[node]; found {
		return acnet.NewNodeName(nt.Nodes[i].Name), true
	}
	return 0, false
}

// Returns the trunk/node of the node with the specified name
func (nt NodeTable) TrunkNode(name string) (acnet.TrunkNode, bool) {
	tn, found := nt.byName[acnet.NewNodeName(name)]
	return tn, found
}

// Returns the trunk/node whose address is the one specified
func (nt NodeTable) TrunkNodeForAddress(ip net.IP) (acnet.TrunkNode, bool) {
	for tn, i := range nt.byTrunkNode {
		if nt.addresses[i].Equal(ip) {
			return tn, true
		}
	}
	return 0, false
}
