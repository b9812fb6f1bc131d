package acnetserver

import (
	"net"
	"os"
	"testing"

	"github.com/francistor/acnetd/acnet"
	"github.com/francistor/acnetd/core"
)

func TestMain(m *testing.M) {

	// Not default, so that the instrumentation server of other packages is not disturbed
	core.InitAcnetConfigInstance("resources/searchRules.json", "testInstance", false)

	os.Exit(m.Run())
}

func TestConfiguredServer(t *testing.T) {
	server, err := NewAcnetServer("testInstance")
	if err != nil {
		t.Fatalf("could not create server: %s", err)
	}
	defer server.Close()

	if server.LocalNode() != acnet.NewTrunkNode(10, 1) {
		t.Fatalf("bad local node %s", server.LocalNode())
	}
	if server.LocalAddr().(*net.UDPAddr).Port != 16801 {
		t.Fatalf("bad local address %s", server.LocalAddr())
	}
	if stats, _ := server.Stats(); stats.ActiveRequests != 0 {
		t.Fatalf("bad stats %+v", stats)
	}
}
