package core

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/francistor/acnetd/acnet"
)

func TestHttpRetrieval(t *testing.T) {
	var nodes NodeTable

	// Give time for the http server to start
	var err error
	for i := 0; i < 10; i++ {
		if err = GetAcnetConfig().CM.BuildJSONConfigObject("remote/nodes.json", &nodes); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("error using http to get config object: %s", err)
	}
	if len(nodes.Nodes) != 3 || nodes.Nodes[1].Name != "CLX06" {
		t.Fatalf("contents of http object are not ok: %v", nodes)
	}
}

func TestEmbeddedRetrieval(t *testing.T) {
	metrics, err := GetAcnetConfig().CM.GetBytesConfigObject("embedded/metrics.json")
	if err != nil {
		t.Fatalf("error getting embedded object: %s", err)
	}
	if !strings.Contains(string(metrics), "9109") {
		t.Fatalf("contents of embedded object are not ok: %s", metrics)
	}
}

func TestNonExistingObject(t *testing.T) {
	if _, err := GetAcnetConfig().CM.GetBytesConfigObject("nonexisting.json"); err == nil {
		t.Fatalf("got non existing object")
	}
}

// The instance specific acnetd.json overrides the general one
func TestServerConfig(t *testing.T) {
	conf := GetAcnetConfig().AcnetServerConf()

	if conf.Port != 16801 || conf.MaxRequestIds != 256 || conf.RequestTimeoutSeconds != 30 {
		t.Fatalf("instance configuration not taken: %+v", conf)
	}
	if conf.NodeName != "CLX01" || conf.MulticastTTL != 1 {
		t.Fatalf("bad configuration: %+v", conf)
	}
	if conf.RequestRecords.Type != "" {
		t.Fatalf("request records configured for test instance")
	}
}

func TestServerConfigDefaults(t *testing.T) {
	conf := AcnetServerConfig{NodeName: "CLX01", RequestRecords: RequestRecordsConfig{Type: "file", FilePath: "/tmp"}}
	if err := conf.initialize(); err != nil {
		t.Fatalf("error initializing: %s", err)
	}
	if conf.Port != 6801 || conf.MaxRequestIds != 4096 || conf.RequestTimeoutSeconds != 120 || conf.MulticastTTL != 32 {
		t.Fatalf("defaults not set: %+v", conf)
	}
	if conf.RequestRecords.RotateSeconds != 3600 || conf.RequestRecords.FileNameFormat == "" {
		t.Fatalf("record defaults not set: %+v", conf.RequestRecords)
	}

	bad := AcnetServerConfig{MaxRequestIds: 70000}
	if err := bad.initialize(); err == nil {
		t.Fatalf("accepted too many request ids")
	}
	bad = AcnetServerConfig{RequestRecords: RequestRecordsConfig{Type: "bigquery"}}
	if err := bad.initialize(); err == nil {
		t.Fatalf("accepted bigquery records without table")
	}
	bad = AcnetServerConfig{RequestRecords: RequestRecordsConfig{Type: "kafka"}}
	if err := bad.initialize(); err == nil {
		t.Fatalf("accepted unknown records type")
	}
}

func TestNodeTable(t *testing.T) {
	nodes := GetAcnetConfig().Nodes()

	tn, found := nodes.TrunkNode("CLX06")
	if !found || tn != acnet.NewTrunkNode(10, 6) {
		t.Fatalf("node not found by name")
	}
	if name, found := nodes.NodeName(tn); !found || name.String() != "CLX06" {
		t.Fatalf("bad node name %s", name)
	}

	addr, found := nodes.UDPAddr(tn, 6801)
	if !found || addr.Port != 16806 || !addr.IP.Equal(net.ParseIP("127.0.0.1")) {
		t.Fatalf("bad address %v", addr)
	}
	addr, _ = nodes.UDPAddr(acnet.NewTrunkNode(10, 1), 6801)
	if addr.Port != 6801 {
		t.Fatalf("default port not used %v", addr)
	}

	ip, found := nodes.Address(acnet.NewTrunkNode(9, 255))
	if !found || !ip.IsMulticast() {
		t.Fatalf("bad multicast address %s", ip)
	}

	if tn, found := nodes.TrunkNodeForAddress(net.ParseIP("239.128.4.1")); !found || tn != acnet.NewTrunkNode(9, 255) {
		t.Fatalf("node not found by address")
	}

	if _, found := nodes.Address(acnet.NewTrunkNode(1, 1)); found {
		t.Fatalf("found unknown node")
	}
}

func TestBadNodeTable(t *testing.T) {
	if _, err := NewNodeTable([]NodeEntry{{Name: "A", TrunkNode: "zz", Address: "127.0.0.1"}}); err == nil {
		t.Fatalf("accepted bad trunk node")
	}
	if _, err := NewNodeTable([]NodeEntry{{Name: "A", TrunkNode: "0x0101", Address: "nowhere"}}); err == nil {
		t.Fatalf("accepted bad address")
	}
	if _, err := NewNodeTable([]NodeEntry{
		{Name: "A", TrunkNode: "0x0101", Address: "127.0.0.1"},
		{Name: "B", TrunkNode: "257", Address: "127.0.0.2"},
	}); err == nil {
		t.Fatalf("accepted duplicated trunk node")
	}
}
