package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Implemented by the acnet servers to publish their outstanding requests. The methods
// are invoked from the http goroutines, so they must be thread safe
type RequestReporter interface {
	// Returns an object to be marshalled as JSON
	RequestsSnapshot() (any, error)

	// Writes the human readable html report
	WriteRequestReport(w io.Writer) error
}

type RequestReporterRegisteredEvent struct {
	InstanceName string
	Reporter     RequestReporter
}

type RequestReporterUnregisteredEvent struct {
	InstanceName string
}

// Makes the outstanding requests of an instance visible in the instrumentation server
func PushRequestReporter(instanceName string, reporter RequestReporter) {
	if MS != nil {
		MS.metricEventChan <- RequestReporterRegisteredEvent{InstanceName: instanceName, Reporter: reporter}
	}
}

func RemoveRequestReporter(instanceName string) {
	if MS != nil {
		MS.metricEventChan <- RequestReporterUnregisteredEvent{InstanceName: instanceName}
	}
}

// Buffer for the channel to receive the events
const INPUT_QUEUE_SIZE = 10

// Buffer for the channel to receive the queries
const QUERY_QUEUE_SIZE = 10

// The single instance of the metrics server.
var MS *InstrumentationServer

type InstrumentationServerConfiguration struct {
	BindAddress string
	Port        int
}

// Specification of a query to the metrics server. Metrics server will listen for this type
// of object in a channel
type Query struct {

	// Name of the item to query
	Name string

	// Channel where the response is written
	RChan chan interface{}
}

// The Metrics servers holds the metrics and runs an event loop for getting the events,
// answering to queries and do graceful termination
type InstrumentationServer struct {

	// To wait until termination
	doneChan chan interface{}

	// To signal closure
	controlChan chan interface{}

	// Events are received here
	metricEventChan chan interface{}

	// Queries are received here
	queryChan chan Query

	// Prometheus registry
	prometheusRegistry *prometheus.Registry

	// HttpServer
	httpMetricsServer *http.Server

	port int

	// One reporter per configuration instance
	requestReporters map[string]RequestReporter
}

func NewMetricsServer(bindAddress string, port int) *InstrumentationServer {
	server := InstrumentationServer{
		doneChan:           make(chan interface{}, 1),
		controlChan:        make(chan interface{}, 1),
		metricEventChan:    make(chan interface{}, INPUT_QUEUE_SIZE),
		queryChan:          make(chan Query, QUERY_QUEUE_SIZE),
		prometheusRegistry: prometheus.NewRegistry(),
		port:               port,
		requestReporters:   make(map[string]RequestReporter),
	}

	pm.AcnetMetrics = newAcnetPrometheusMetrics(server.prometheusRegistry)

	mux := new(http.ServeMux)
	mux.Handle("/go_metrics", promhttp.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(server.prometheusRegistry, promhttp.HandlerOpts{Registry: server.prometheusRegistry}))
	mux.HandleFunc("/requests", server.getRequestsHandler())
	mux.HandleFunc("/requests.html", server.getRequestReportHandler())

	server.httpMetricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bindAddress, port),
		Handler:           mux,
		IdleTimeout:       1 * time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start metrics server
	go server.httpLoop()

	// Start metrics processing loop
	go server.metricServerLoop()

	return &server
}

// To be called when initializing the default configuration instance
func initInstrumentationServer(cm *ConfigurationManager) {

	var metricsConfig = NewConfigObject[InstrumentationServerConfiguration]("metrics.json")
	if err := metricsConfig.Update(cm); err != nil {
		panic("could not apply metrics configuration: " + err.Error())
	}

	// Make the metrics server globally available
	var config = metricsConfig.Get()
	MS = NewMetricsServer(config.BindAddress, config.Port)
}

// Shuts down the http server and the event loop
func (is *InstrumentationServer) Close() {
	close(is.controlChan)
	<-is.doneChan
}

// Sets all counters to zero
func (is *InstrumentationServer) ResetMetrics() {
	pm.AcnetMetrics.reset()
}

// Wrapper to get the registered reporters
func (is *InstrumentationServer) RequestReportersQuery() map[string]RequestReporter {
	query := Query{Name: "RequestReporters", RChan: make(chan interface{})}
	is.queryChan <- query
	return (<-query.RChan).(map[string]RequestReporter)
}

// Loop for Prometheus metrics server
func (is *InstrumentationServer) httpLoop() {

	GetLogger().Infof("instrumentation server listening in %s", is.httpMetricsServer.Addr)

	// Prometheus uses plain old http
	err := is.httpMetricsServer.ListenAndServe()

	if !errors.Is(err, http.ErrServerClosed) {
		panic("error starting instrumentation handler: " + err.Error())
	}

	// Will get here only when a shutdown is invoked
	close(is.doneChan)
}

// Main loop for getting events and serving queries
func (is *InstrumentationServer) metricServerLoop() {

	for {
		select {

		case <-is.controlChan:
			// Shutdown server
			is.httpMetricsServer.Shutdown(context.Background())
			return

		case query := <-is.queryChan:

			switch query.Name {

			case "RequestReporters":
				// Copy, because the map is owned by this loop
				reporters := make(map[string]RequestReporter, len(is.requestReporters))
				for k, v := range is.requestReporters {
					reporters[k] = v
				}
				query.RChan <- reporters
			}

			close(query.RChan)

		case event := <-is.metricEventChan:

			switch e := event.(type) {

			case RequestReporterRegisteredEvent:
				is.requestReporters[e.InstanceName] = e.Reporter

			case RequestReporterUnregisteredEvent:
				delete(is.requestReporters, e.InstanceName)
			}
		}
	}
}

// Returns the outstanding requests of all the instances, as JSON
func (is *InstrumentationServer) getRequestsHandler() func(w http.ResponseWriter, req *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {

		snapshots := make(map[string]any)
		for name, reporter := range is.RequestReportersQuery() {
			snapshot, err := reporter.RequestsSnapshot()
			if err != nil {
				writer.WriteHeader(http.StatusInternalServerError)
				GetLogger().Errorf("could not get requests snapshot for %s: %s", name, err)
				return
			}
			snapshots[name] = snapshot
		}

		jAnswer, err := json.Marshal(snapshots)
		if err != nil {
			writer.WriteHeader(http.StatusInternalServerError)
			GetLogger().Errorf("could not marshal requests due to: %s", err.Error())
			return
		}
		writer.Header().Add("Content-Type", "application/json")
		writer.WriteHeader(http.StatusOK)
		writer.Write(jAnswer)
	}
}

// Returns the html report of outstanding requests. The instance is specified in the
// "instance" query parameter, and may be omitted if there is only one
func (is *InstrumentationServer) getRequestReportHandler() func(w http.ResponseWriter, req *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {

		reporters := is.RequestReportersQuery()
		instanceName := request.URL.Query().Get("instance")

		var reporter RequestReporter
		if instanceName == "" && len(reporters) == 1 {
			for _, r := range reporters {
				reporter = r
			}
		} else {
			reporter = reporters[instanceName]
		}

		if reporter == nil {
			writer.WriteHeader(http.StatusNotFound)
			return
		}

		writer.Header().Add("Content-Type", "text/html")
		writer.WriteHeader(http.StatusOK)
		if err := reporter.WriteRequestReport(writer); err != nil {
			GetLogger().Errorf("error writing request report: %s", err)
		}
	}
}
