package ncp

import "fmt"

// Catalog is a bidirectional id/name table of the messages one channel may
// carry.
type Catalog struct {
	name   string
	names  []string
	byName map[string]int
}

// NewCatalog assigns ids to names in order, starting at zero.
func NewCatalog(name string, names ...string) *Catalog {
	c := &Catalog{name: name, names: names, byName: make(map[string]int, len(names))}
	for i, n := range names {
		if _, dup := c.byName[n]; dup {
			panic("ncp: duplicate message " + n + " in catalog " + name)
		}
		c.byName[n] = i
	}
	return c
}

func (c *Catalog) Name() string { return c.name }

// ID returns the id of a message name.
func (c *Catalog) ID(name string) (int, error) {
	id, ok := c.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q in %s catalog", ErrUndefinedMessage, name, c.name)
	}
	return id, nil
}

// MessageName returns the name of a message id.
func (c *Catalog) MessageName(id int) (string, error) {
	if id < 0 || id >= len(c.names) {
		return "", fmt.Errorf("%w: id %d in %s catalog", ErrUndefinedMessage, id, c.name)
	}
	return c.names[id], nil
}

// Contains reports whether name belongs to the catalog.
func (c *Catalog) Contains(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Controller to driver messages.
const (
	MsgPrepareRequest   = "PREPARE_REQUEST"
	MsgPrepareResponse  = "PREPARE_RESPONSE"
	MsgSetupRequest     = "SETUP_REQUEST"
	MsgSetupResponse    = "SETUP_RESPONSE"
	MsgResourceRequest  = "RESOURCE_REQUEST"
	MsgResourceResponse = "RESOURCE_RESPONSE"
	MsgStartRequest     = "START_REQUEST"
	MsgStartResponse    = "START_RESPONSE"
	MsgStatusRequest    = "STATUS_REQUEST"
	MsgStatusResponse   = "STATUS_RESPONSE"
	MsgStopRequest      = "STOP_REQUEST"
	MsgStopResponse     = "STOP_RESPONSE"
	MsgGatherRequest    = "GATHER_REQUEST"
	MsgGatherResponse   = "GATHER_RESPONSE"
	MsgLogInfo          = "LOG_INFO"
)

// Admin to controller messages not shared with the driver channel.
const (
	MsgListRepoRequest    = "LIST_REPO_REQUEST"
	MsgListRepoResponse   = "LIST_REPO_RESPONSE"
	MsgListRunnerRequest  = "LIST_RUNNER_REQUEST"
	MsgListRunnerResponse = "LIST_RUNNER_RESPONSE"
	MsgShutdownRequest    = "SHUTDOWN_REQUEST"
	MsgShutdownResponse   = "SHUTDOWN_RESPONSE"
)

// DriverCatalog lists the controller/driver messages.
var DriverCatalog = NewCatalog("driver",
	MsgPrepareRequest, MsgPrepareResponse,
	MsgSetupRequest, MsgSetupResponse,
	MsgResourceRequest, MsgResourceResponse,
	MsgStartRequest, MsgStartResponse,
	MsgStatusRequest, MsgStatusResponse,
	MsgStopRequest, MsgStopResponse,
	MsgGatherRequest, MsgGatherResponse,
	MsgLogInfo,
)

// AdminCatalog lists the admin/controller messages.
var AdminCatalog = NewCatalog("admin",
	MsgListRepoRequest, MsgListRepoResponse,
	MsgListRunnerRequest, MsgListRunnerResponse,
	MsgPrepareRequest, MsgPrepareResponse,
	MsgSetupRequest, MsgSetupResponse,
	MsgStartRequest, MsgStartResponse,
	MsgStatusRequest, MsgStatusResponse,
	MsgStopRequest, MsgStopResponse,
	MsgGatherRequest, MsgGatherResponse,
	MsgShutdownRequest, MsgShutdownResponse,
)
