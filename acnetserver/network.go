package acnetserver

import (
	"net"

	"golang.org/x/net/ipv4"

	"github.com/francistor/acnetd/acnet"
	"github.com/francistor/acnetd/core"
)

// Sends packets to the remote nodes using the UDP socket of the server
type udpNetwork struct {
	socket net.PacketConn
	nodes  core.NodeTable

	// Destination port for the nodes that do not specify one
	port int
}

func newUDPNetwork(socket net.PacketConn, nodes core.NodeTable, port int, multicastTTL int) *udpNetwork {

	// Requests to multicast addresses must reach the nodes in other subnets and also
	// other servers in this host
	pc := ipv4.NewPacketConn(socket)
	if err := pc.SetMulticastTTL(multicastTTL); err != nil {
		core.GetLogger().Warnf("could not set multicast TTL: %s", err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		core.GetLogger().Warnf("could not set multicast loopback: %s", err)
	}

	return &udpNetwork{
		socket: socket,
		nodes:  nodes,
		port:   port,
	}
}

// The packet is sent to the server node of the header
func (n *udpNetwork) SendDataToNetwork(hdr *acnet.Header, data []byte) bool {
	addr, found := n.nodes.UDPAddr(hdr.SvrNode, n.port)
	if !found {
		core.GetLogger().Warnf("no address for node %s", hdr.SvrNode)
		return false
	}

	h := *hdr
	h.MsgLen = uint16(acnet.HeaderSize + len(data))
	packetBytes, err := h.MarshalBinary()
	if err != nil {
		core.GetLogger().Errorf("error marshaling header: %s", err)
		return false
	}
	packetBytes = append(packetBytes, data...)

	if _, err := n.socket.WriteTo(packetBytes, addr); err != nil {
		core.GetLogger().Errorf("error writing packet to %s: %s", addr, err)
		return false
	}

	core.GetLogger().Debugf("-> sent %s to %s", h, addr)

	return true
}
