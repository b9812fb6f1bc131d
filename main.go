package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/francistor/acnetd/acnetserver"
	"github.com/francistor/acnetd/core"
)

func main() {

	// Get the command line arguments
	bootPtr := flag.String("boot", "resources/searchRules.json", "File or http URL with Configuration Search Rules")
	instancePtr := flag.String("instance", "", "Name of instance")

	flag.Parse()

	// Initialize the Config Object, the logger and the instrumentation server
	core.InitAcnetConfigInstance(*bootPtr, *instancePtr, true)

	server, err := acnetserver.NewAcnetServer(*instancePtr)
	if err != nil {
		core.GetLogger().Fatalf("could not start acnet server: %s", err)
	}

	// Wait for termination
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan

	core.GetLogger().Infof("received %s. Terminating", sig)

	server.Close()
	if core.MS != nil {
		core.MS.Close()
	}
}
