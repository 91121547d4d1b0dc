package commcell

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Option configures optional Commcell settings.
type Option func(*options)

type options struct {
	tracerProvider trace.TracerProvider
	metrics        *Metrics
}

// WithTracerProvider sets the TracerProvider for distributed tracing of API
// requests. If not provided, tracing operations use a noop provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithMetrics enables Prometheus instrumentation of the transport.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Commcell is the entry point of the SDK: one authenticated session against
// a Commcell server. All resource collections obtained from it share the
// same transport and session token.
//
// Commcell caches the server properties fetched at construction; Refresh
// re-fetches them and drops the cached collection handles.
type Commcell struct {
	t   *transport
	cfg Config

	name     string
	hostname string
	guid     string
	version  string
	timezone string
	id       int

	mu         sync.Mutex
	clients    *Clients
	groups     *ClientGroups
	jobs       *JobController
	topologies *NetworkTopologies
	pools      *ResourcePools
	plans      *Plans
}

// New connects to the Commcell server described by cfg, authenticates and
// fetches the server properties. The caller should Logout when done.
func New(ctx context.Context, cfg Config, opts ...Option) (*Commcell, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cc := &Commcell{
		t:   newTransport(cfg, o.tracerProvider, o.metrics),
		cfg: cfg,
	}

	if cfg.Auth.Token != "" {
		cc.t.setToken(cfg.Auth.Token)
	} else {
		if err := cc.t.login(ctx); err != nil {
			return nil, err
		}
	}

	if err := cc.fetchProperties(ctx); err != nil {
		return nil, err
	}

	log.Infof("Connected to Commcell %q (version %s)", cc.name, cc.version)
	return cc, nil
}

// commServResponse is the reply of the CommServ endpoint.
type commServResponse struct {
	Commcell struct {
		CommCellName string `json:"commCellName"`
		CommCellID   int    `json:"commCellId"`
		CSGUID       string `json:"csGUID"`
	} `json:"commcell"`
	HostName         string `json:"hostName"`
	CurrentSPVersion string `json:"currentSPVersion"`
	ReleaseName      string `json:"releaseName"`
	CSTimeZone       struct {
		TimeZoneName string `json:"TimeZoneName"`
	} `json:"csTimeZone"`
}

func (c *Commcell) fetchProperties(ctx context.Context) error {
	var reply commServResponse
	if err := c.t.do(ctx, "Commcell.Refresh", http.MethodGet, svcCommServ, nil, &reply); err != nil {
		return err
	}

	c.name = reply.Commcell.CommCellName
	c.hostname = reply.HostName
	c.guid = reply.Commcell.CSGUID
	c.version = reply.CurrentSPVersion
	c.timezone = reply.CSTimeZone.TimeZoneName
	c.id = reply.Commcell.CommCellID
	return nil
}

// Name returns the CommServe name.
func (c *Commcell) Name() string { return c.name }

// Hostname returns the CommServe hostname.
func (c *Commcell) Hostname() string { return c.hostname }

// GUID returns the CommServe GUID.
func (c *Commcell) GUID() string { return c.guid }

// Version returns the service-pack version string reported by the server.
func (c *Commcell) Version() string { return c.version }

// Timezone returns the CommServe timezone name.
func (c *Commcell) Timezone() string { return c.timezone }

// ID returns the Commcell ID.
func (c *Commcell) ID() int { return c.id }

// AuthToken returns the session token for the current session, including
// its prefix. It can be handed to NewWithToken-style construction elsewhere.
func (c *Commcell) AuthToken() string { return c.t.authToken() }

// WhoAmI returns the username associated with the current session token.
func (c *Commcell) WhoAmI(ctx context.Context) (string, error) {
	var reply struct {
		User struct {
			UserName string `json:"userName"`
		} `json:"user"`
	}
	if err := c.t.do(ctx, "Commcell.WhoAmI", http.MethodGet, svcWhoAmI, nil, &reply); err != nil {
		return "", err
	}
	return reply.User.UserName, nil
}

// Refresh re-fetches the server properties and drops all cached collection
// handles, so subsequent accessors return freshly initialized collections.
func (c *Commcell) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.clients = nil
	c.groups = nil
	c.jobs = nil
	c.topologies = nil
	c.pools = nil
	c.plans = nil
	c.mu.Unlock()

	return c.fetchProperties(ctx)
}

// Logout invalidates the session on the server. The Commcell must not be
// used afterwards.
func (c *Commcell) Logout(ctx context.Context) error {
	return c.t.logout(ctx)
}

// Close releases transport resources, waiting for in-flight requests bounded
// by ctx. It does not log out; call Logout first for a clean shutdown.
func (c *Commcell) Close(ctx context.Context) error {
	return c.t.close(ctx)
}

// Clients returns the handle for client operations.
func (c *Commcell) Clients() *Clients {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clients == nil {
		c.clients = &Clients{cc: c}
	}
	return c.clients
}

// ClientGroups returns the handle for client group operations.
func (c *Commcell) ClientGroups() *ClientGroups {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.groups == nil {
		c.groups = &ClientGroups{cc: c}
	}
	return c.groups
}

// Jobs returns the job controller.
func (c *Commcell) Jobs() *JobController {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jobs == nil {
		c.jobs = &JobController{cc: c}
	}
	return c.jobs
}

// NetworkTopologies returns the handle for network topology operations.
func (c *Commcell) NetworkTopologies() *NetworkTopologies {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.topologies == nil {
		c.topologies = &NetworkTopologies{cc: c}
	}
	return c.topologies
}

// ResourcePools returns the handle for resource pool operations.
func (c *Commcell) ResourcePools() *ResourcePools {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pools == nil {
		c.pools = &ResourcePools{cc: c}
	}
	return c.pools
}

// Plans returns the handle for plan operations.
func (c *Commcell) Plans() *Plans {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plans == nil {
		c.plans = &Plans{cc: c}
	}
	return c.plans
}

// ReplicationPairs returns the handle for block-level replication pair
// operations.
func (c *Commcell) ReplicationPairs() *ReplicationPairs {
	return &ReplicationPairs{cc: c}
}

// ExecuteQCommand runs a qcommand on the server and returns the raw
// response body. input may be empty for commands without a payload.
func (c *Commcell) ExecuteQCommand(ctx context.Context, command, input string) ([]byte, error) {
	form := url.Values{}
	form.Set("command", command)
	if input != "" {
		form.Set("inputRequestXML", input)
	}

	return c.t.doRaw(ctx, "Commcell.ExecuteQCommand", http.MethodPost,
		svcExecuteQCommand, form.Encode(), contentTypeForm, contentTypeJSON)
}

// qoperationExecute runs "qoperation execute" with the given request
// payload, decoding the JSON reply into target when target is non-nil.
// The payload is serialized as XML, which is what the endpoint expects.
func (c *Commcell) qoperationExecute(ctx context.Context, payload interface{}, target interface{}) error {
	body, err := xml.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to build qoperation request: %w", err)
	}

	raw, err := c.t.doRaw(ctx, "Commcell.QOperation", http.MethodPost, svcQOperation,
		string(body), contentTypeXML, contentTypeJSON)
	if err != nil {
		return err
	}

	if code, msg, found := extractVendorError(raw); found {
		return &SDKError{Op: "Commcell.QOperation", Endpoint: svcQOperation, Code: code, Message: msg}
	}

	if target != nil {
		if err := decodeJSON(raw, target); err != nil {
			return &SDKError{Op: "Commcell.QOperation", Endpoint: svcQOperation,
				Message: fmt.Sprintf("failed to decode response: %v", err), Err: err}
		}
	}
	return nil
}
