package commcell

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Clients represents the set of clients configured on the Commcell.
// The name-to-ID map is fetched lazily and cached until Refresh.
type Clients struct {
	cc *Commcell

	mu      sync.Mutex
	byName  map[string]string // lowercase client name -> client ID
	fetched bool
}

// clientEntity identifies a client in request and response envelopes.
type clientEntity struct {
	ClientID   int    `json:"clientId"`
	ClientName string `json:"clientName"`
	HostName   string `json:"hostName,omitempty"`
}

type clientsListResponse struct {
	ClientProperties []struct {
		Client struct {
			ClientEntity clientEntity `json:"clientEntity"`
			OSInfo       struct {
				Type   string `json:"Type"`
				OSName string `json:"OsDisplayInfo,omitempty"`
			} `json:"osInfo"`
		} `json:"client"`
	} `json:"clientProperties"`
}

func (cs *Clients) fetch(ctx context.Context) error {
	var reply clientsListResponse
	if err := cs.cc.t.do(ctx, "Clients.List", http.MethodGet, svcClients, nil, &reply); err != nil {
		return err
	}

	byName := make(map[string]string, len(reply.ClientProperties))
	for _, prop := range reply.ClientProperties {
		entity := prop.Client.ClientEntity
		byName[strings.ToLower(entity.ClientName)] = strconv.Itoa(entity.ClientID)
	}

	cs.mu.Lock()
	cs.byName = byName
	cs.fetched = true
	cs.mu.Unlock()
	return nil
}

func (cs *Clients) ensure(ctx context.Context) error {
	cs.mu.Lock()
	fetched := cs.fetched
	cs.mu.Unlock()
	if fetched {
		return nil
	}
	return cs.fetch(ctx)
}

// All returns the names of all clients on the Commcell, mapped to their IDs.
func (cs *Clients) All(ctx context.Context) (map[string]string, error) {
	if err := cs.ensure(ctx); err != nil {
		return nil, err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make(map[string]string, len(cs.byName))
	for name, id := range cs.byName {
		out[name] = id
	}
	return out, nil
}

// Has reports whether a client with the given name exists.
func (cs *Clients) Has(ctx context.Context, name string) (bool, error) {
	if err := cs.ensure(ctx); err != nil {
		return false, err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, ok := cs.byName[strings.ToLower(name)]
	return ok, nil
}

// Get returns the Client with the given name and loads its properties.
func (cs *Clients) Get(ctx context.Context, name string) (*Client, error) {
	if err := cs.ensure(ctx); err != nil {
		return nil, err
	}

	cs.mu.Lock()
	id, ok := cs.byName[strings.ToLower(name)]
	cs.mu.Unlock()
	if !ok {
		return nil, &SDKError{
			Op:         "Clients.Get",
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no client exists with name %q", name),
		}
	}

	client := &Client{cc: cs.cc, name: strings.ToLower(name), id: id}
	if err := client.Refresh(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Refresh drops the cached client list; the next call re-fetches it.
func (cs *Clients) Refresh(ctx context.Context) error {
	return cs.fetch(ctx)
}

// Client is a single client of the Commcell, a cache of its last-fetched
// properties plus convenience accessors.
type Client struct {
	cc   *Commcell
	name string
	id   string

	hostname      string
	osName        string
	backupEnabled bool
	props         map[string]interface{}
}

type clientPropertiesResponse struct {
	ClientProperties []struct {
		Client struct {
			ClientEntity clientEntity `json:"clientEntity"`
			OSInfo       struct {
				OSDisplayInfo struct {
					OSName string `json:"OSName"`
				} `json:"OsDisplayInfo"`
			} `json:"osInfo"`
		} `json:"client"`
		ClientProps struct {
			ActivityControl struct {
				ActivityControlOptions []struct {
					ActivityType       int  `json:"activityType"`
					EnableActivityType bool `json:"enableActivityType"`
				} `json:"activityControlOptions"`
			} `json:"clientActivityControl"`
		} `json:"clientProps"`
	} `json:"clientProperties"`
}

// Activity types used by the activity-control endpoints. The same values
// apply to clients and client groups.
const (
	activityBackup    = 1
	activityRestore   = 2
	activityDataAging = 16
)

// Name returns the client name.
func (c *Client) Name() string { return c.name }

// ID returns the client ID assigned by the server.
func (c *Client) ID() string { return c.id }

// Hostname returns the client hostname from the last-fetched properties.
func (c *Client) Hostname() string { return c.hostname }

// OSName returns the client OS description from the last-fetched properties.
func (c *Client) OSName() string { return c.osName }

// IsBackupEnabled reports whether backup activity is enabled, from the
// last-fetched properties.
func (c *Client) IsBackupEnabled() bool { return c.backupEnabled }

// Properties returns the raw last-fetched properties document.
func (c *Client) Properties() map[string]interface{} { return c.props }

// Refresh re-fetches the client properties from the server.
func (c *Client) Refresh(ctx context.Context) error {
	endpoint := fmt.Sprintf(svcClient, c.id)

	var raw map[string]interface{}
	if err := c.cc.t.do(ctx, "Client.Refresh", http.MethodGet, endpoint, nil, &raw); err != nil {
		return err
	}

	var reply clientPropertiesResponse
	if err := remarshal(raw, &reply); err != nil || len(reply.ClientProperties) == 0 {
		return &SDKError{Op: "Client.Refresh", Endpoint: endpoint,
			Message: "failed to get client properties"}
	}

	prop := reply.ClientProperties[0]
	c.hostname = prop.Client.ClientEntity.HostName
	c.osName = prop.Client.OSInfo.OSDisplayInfo.OSName
	c.props = raw

	c.backupEnabled = true
	for _, opt := range prop.ClientProps.ActivityControl.ActivityControlOptions {
		if opt.ActivityType == activityBackup {
			c.backupEnabled = opt.EnableActivityType
		}
	}
	return nil
}

// setActivity flips one activity-control flag on the client.
func (c *Client) setActivity(ctx context.Context, activityType int, enable bool) error {
	request := map[string]interface{}{
		"association": map[string]interface{}{
			"entity": []interface{}{
				map[string]interface{}{"clientName": c.name},
			},
		},
		"clientProperties": map[string]interface{}{
			"clientProps": map[string]interface{}{
				"clientActivityControl": map[string]interface{}{
					"activityControlOptions": []interface{}{
						map[string]interface{}{
							"activityType":       activityType,
							"enableAfterADelay":  false,
							"enableActivityType": enable,
						},
					},
				},
			},
		},
	}

	endpoint := fmt.Sprintf(svcClient, c.id)
	if err := c.cc.t.do(ctx, "Client.Update", http.MethodPost, endpoint, request, nil); err != nil {
		return err
	}
	return c.Refresh(ctx)
}

// EnableBackup enables backup activity on the client.
func (c *Client) EnableBackup(ctx context.Context) error {
	return c.setActivity(ctx, activityBackup, true)
}

// DisableBackup disables backup activity on the client.
func (c *Client) DisableBackup(ctx context.Context) error {
	return c.setActivity(ctx, activityBackup, false)
}

// EnableRestore enables restore activity on the client.
func (c *Client) EnableRestore(ctx context.Context) error {
	return c.setActivity(ctx, activityRestore, true)
}

// DisableRestore disables restore activity on the client.
func (c *Client) DisableRestore(ctx context.Context) error {
	return c.setActivity(ctx, activityRestore, false)
}

// Backupsets returns the backupsets of this client for the given agent
// (e.g. AgentFileSystem).
func (c *Client) Backupsets(agent Agent) *Backupsets {
	return &Backupsets{cc: c.cc, client: c, agent: agent}
}

// Network returns the network configuration wrapper for this client.
func (c *Client) Network() *Network {
	return &Network{cc: c.cc, entityName: c.name, entityID: c.id, entityKind: networkEntityClient}
}

// Schedules returns the schedules associated with this client.
func (c *Client) Schedules() *Schedules {
	return &Schedules{cc: c.cc, scopeParam: "clientId=" + c.id}
}
