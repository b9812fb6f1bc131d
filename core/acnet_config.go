package core

import (
	"fmt"
)

// Manages the configuration items for the acnet server
type AcnetConfigurationManager struct {
	CM                ConfigurationManager
	acnetServerConfig *ConfigObject[AcnetServerConfig]
	nodeTable         *ConfigObject[NodeTable]
}

// Slice of configuration managers
// Except during testing, there will be only one instance, which will be retrieved by GetAcnetConfig().
// A specific instance is retrieved with GetAcnetConfigInstance()
var acnetConfigs []*AcnetConfigurationManager = make([]*AcnetConfigurationManager, 0)

// Adds an acnet configuration object with the specified name
func InitAcnetConfigInstance(bootstrapFile string, instanceName string, isDefault bool) *AcnetConfigurationManager {

	// Check not already instantiated
	for i := range acnetConfigs {
		if acnetConfigs[i].CM.instanceName == instanceName {
			panic(instanceName + " already initalized")
		}
	}

	// Better to create asap
	acnetConfig := AcnetConfigurationManager{
		CM:                NewConfigurationManager(bootstrapFile, instanceName),
		acnetServerConfig: NewConfigObject[AcnetServerConfig]("acnetd.json"),
		nodeTable:         NewConfigObject[NodeTable]("nodes.json"),
	}

	acnetConfigs = append(acnetConfigs, &acnetConfig)

	// Initialize logger and metrics if default
	if isDefault {
		initLogger(&acnetConfig.CM)
		initInstrumentationServer(&acnetConfig.CM)
	}

	if err := acnetConfig.UpdateAcnetServerConfig(); err != nil {
		panic(err)
	}
	if err := acnetConfig.UpdateNodeTable(); err != nil {
		panic(err)
	}

	return &acnetConfig
}

// Retrieves a specific configuration instance
func GetAcnetConfigInstance(instanceName string) *AcnetConfigurationManager {

	for i := range acnetConfigs {
		if acnetConfigs[i].CM.instanceName == instanceName {
			return acnetConfigs[i]
		}
	}

	panic("configuraton instance <" + instanceName + "> not configured")
}

// Retrieves the default configuration instance
func GetAcnetConfig() *AcnetConfigurationManager {
	return acnetConfigs[0]
}

// Reloads the server configuration
func (c *AcnetConfigurationManager) UpdateAcnetServerConfig() error {
	return c.acnetServerConfig.Update(&c.CM)
}

// Reloads the node table
func (c *AcnetConfigurationManager) UpdateNodeTable() error {
	return c.nodeTable.Update(&c.CM)
}

// Returns the current server configuration
func (c *AcnetConfigurationManager) AcnetServerConf() AcnetServerConfig {
	return c.acnetServerConfig.Get()
}

// Returns the current node table
func (c *AcnetConfigurationManager) Nodes() NodeTable {
	return c.nodeTable.Get()
}

///////////////////////////////////////////////////////////////////////////////

const (
	defaultAcnetPort             = 6801
	defaultMaxRequestIds         = 4096
	defaultRequestTimeoutSeconds = 120
	defaultMulticastTTL          = 32
	defaultRecordRotateSeconds   = 3600
)

// Where to write the records of terminated requests
type RequestRecordsConfig struct {
	// "file", "bigquery" or empty for not writing records
	Type string

	// For file records
	FilePath       string
	FileNameFormat string
	RotateSeconds  int64

	// For bigquery records
	Dataset        string
	Table          string
	GlitchSeconds  int
	BackupFileName string
}

// Holds the acnet server configuration
type AcnetServerConfig struct {
	BindAddress string
	Port        int

	// Name of this node. Must be present in the node table
	NodeName string

	// Capacity of the request id table
	MaxRequestIds int

	// Maximum timeout of a request, whatever the client asks for
	RequestTimeoutSeconds int

	// For requests to multicast addresses
	MulticastTTL int

	RequestRecords RequestRecordsConfig
}

// Fills defaults and validates
func (c *AcnetServerConfig) initialize() error {
	if c.Port == 0 {
		c.Port = defaultAcnetPort
	}
	if c.MaxRequestIds == 0 {
		c.MaxRequestIds = defaultMaxRequestIds
	}
	if c.MaxRequestIds < 1 || c.MaxRequestIds > 65536 {
		return fmt.Errorf("MaxRequestIds out of range: %d", c.MaxRequestIds)
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	if c.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("bad RequestTimeoutSeconds: %d", c.RequestTimeoutSeconds)
	}
	if c.MulticastTTL == 0 {
		c.MulticastTTL = defaultMulticastTTL
	}

	switch c.RequestRecords.Type {
	case "":
	case "file":
		if c.RequestRecords.FilePath == "" {
			return fmt.Errorf("FilePath not specified for request records")
		}
		if c.RequestRecords.FileNameFormat == "" {
			c.RequestRecords.FileNameFormat = "requests_20060102T150405"
		}
		if c.RequestRecords.RotateSeconds == 0 {
			c.RequestRecords.RotateSeconds = defaultRecordRotateSeconds
		}
	case "bigquery":
		if c.RequestRecords.Dataset == "" || c.RequestRecords.Table == "" || c.RequestRecords.BackupFileName == "" {
			return fmt.Errorf("Dataset, Table and BackupFileName must be specified for bigquery request records")
		}
	default:
		return fmt.Errorf("unknown request records type %s", c.RequestRecords.Type)
	}

	return nil
}
