package commcell

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Firewall group types within a network topology.
const (
	TopologyGroupInfrastructure = 1
	TopologyGroupServers        = 2
	TopologyGroupServerGateways = 3
	TopologyGroupDMZGateways    = 4
)

// Network topology types.
const (
	TopologyGateway   = 1
	TopologyOneWay    = 2
	TopologyTwoWay    = 3
	TopologyCascading = 4
)

// mnemonicGroups are the built-in group names that may be flagged mnemonic
// in a smart topology.
var mnemonicGroups = map[string]struct{}{
	"My CommServe Computer and MediaAgents": {},
	"My CommServe Computer":                 {},
	"My MediaAgents":                        {},
}

// TopologyGroup places one client group into a topology.
type TopologyGroup struct {
	// Type is one of the TopologyGroup* constants.
	Type int

	// Name of the client group, or of a mnemonic group when Mnemonic is set.
	Name string

	// Mnemonic marks the group as one of the built-in mnemonic groups.
	Mnemonic bool
}

// TopologyOptions configure a topology on creation and update.
type TopologyOptions struct {
	// Type is one of the Topology* type constants; defaults to TopologyOneWay.
	Type int

	// Description of the topology.
	Description string

	// UseWildcardProxy uses a wildcard proxy for gateway topologies.
	UseWildcardProxy bool

	// SmartTopology must be set when one group is mnemonic.
	SmartTopology bool

	// DisplayType is 0 for servers, 1 for laptops.
	DisplayType int

	// EncryptTraffic encrypts tunnel traffic when set to 1.
	EncryptTraffic int

	// NumberOfStreams of the tunnels; defaults to 1.
	NumberOfStreams int

	// RegionID of the topology.
	RegionID int

	// ConnectionProtocol selects the tunnel protocols; defaults to 2.
	ConnectionProtocol int
}

func (o *TopologyOptions) applyDefaults() {
	if o.Type == 0 {
		o.Type = TopologyOneWay
	}
	if o.NumberOfStreams == 0 {
		o.NumberOfStreams = 1
	}
	if o.ConnectionProtocol == 0 {
		o.ConnectionProtocol = 2
	}
}

// extendedProperties renders the attribute blob the topology endpoints carry
// alongside the structured fields.
func (o *TopologyOptions) extendedProperties() string {
	return fmt.Sprintf(`<App_TopologyExtendedProperties displayType="%d" encryptTraffic="%d" numberOfStreams="%d" regionId="%d" connectionProtocol="%d" />`,
		o.DisplayType, o.EncryptTraffic, o.NumberOfStreams, o.RegionID, o.ConnectionProtocol)
}

// firewallGroupsJSON validates the groups and builds the firewallGroups node,
// returning the mnemonic group count for the smart topology check.
func firewallGroupsJSON(groups []TopologyGroup) ([]interface{}, int, error) {
	list := make([]interface{}, 0, len(groups))
	mnemonics := 0

	for _, group := range groups {
		if group.Mnemonic {
			if _, ok := mnemonicGroups[group.Name]; !ok {
				return nil, 0, &SDKError{Op: "NetworkTopologies.Add",
					Message: fmt.Sprintf("client group %q is not a mnemonic group", group.Name)}
			}
			if group.Type == TopologyGroupServerGateways || group.Type == TopologyGroupDMZGateways {
				return nil, 0, &SDKError{Op: "NetworkTopologies.Add",
					Message: fmt.Sprintf("proxy client group %q cannot be a mnemonic group", group.Name)}
			}
			mnemonics++
		}
		list = append(list, map[string]interface{}{
			"fwGroupType": group.Type,
			"isMnemonic":  group.Mnemonic,
			"clientGroup": map[string]string{"clientGroupName": group.Name},
		})
	}
	return list, mnemonics, nil
}

// verifySmartTopology checks the mnemonic group count against the smart
// topology flag: a smart topology needs exactly one mnemonic group and a
// regular one needs none.
func verifySmartTopology(smart bool, mnemonics int) error {
	if smart {
		switch {
		case mnemonics == 0:
			return &SDKError{Op: "NetworkTopologies.Add",
				Message: "one client group should be mnemonic in a smart topology"}
		case mnemonics > 1:
			return &SDKError{Op: "NetworkTopologies.Add",
				Message: "there cannot be more than one mnemonic group in a topology"}
		}
		return nil
	}
	if mnemonics != 0 {
		return &SDKError{Op: "NetworkTopologies.Add",
			Message: "mnemonic groups require a smart topology"}
	}
	return nil
}

// NetworkTopologies represents the network topologies of the Commcell.
type NetworkTopologies struct {
	cc *Commcell

	mu      sync.Mutex
	byName  map[string]string // lowercase topology name -> topology ID
	fetched bool
}

type topologiesListResponse struct {
	Error struct {
		ErrorCode int `json:"errorCode"`
	} `json:"error"`
	FirewallTopologies []struct {
		TopologyEntity struct {
			TopologyName string `json:"topologyName"`
			TopologyID   int    `json:"topologyId"`
		} `json:"topologyEntity"`
	} `json:"firewallTopologies"`
}

func (nt *NetworkTopologies) fetch(ctx context.Context) error {
	var reply topologiesListResponse
	if err := nt.cc.t.do(ctx, "NetworkTopologies.List", http.MethodGet, svcNetworkTopologies, nil, &reply); err != nil {
		return err
	}

	byName := make(map[string]string, len(reply.FirewallTopologies))
	for _, topology := range reply.FirewallTopologies {
		entity := topology.TopologyEntity
		byName[strings.ToLower(entity.TopologyName)] = strconv.Itoa(entity.TopologyID)
	}

	nt.mu.Lock()
	nt.byName = byName
	nt.fetched = true
	nt.mu.Unlock()
	return nil
}

func (nt *NetworkTopologies) ensure(ctx context.Context) error {
	nt.mu.Lock()
	fetched := nt.fetched
	nt.mu.Unlock()
	if fetched {
		return nil
	}
	return nt.fetch(ctx)
}

// All returns the topology names mapped to their IDs.
func (nt *NetworkTopologies) All(ctx context.Context) (map[string]string, error) {
	if err := nt.ensure(ctx); err != nil {
		return nil, err
	}

	nt.mu.Lock()
	defer nt.mu.Unlock()
	out := make(map[string]string, len(nt.byName))
	for name, id := range nt.byName {
		out[name] = id
	}
	return out, nil
}

// Has reports whether a topology with the given name exists.
func (nt *NetworkTopologies) Has(ctx context.Context, name string) (bool, error) {
	if err := nt.ensure(ctx); err != nil {
		return false, err
	}

	nt.mu.Lock()
	defer nt.mu.Unlock()
	_, ok := nt.byName[strings.ToLower(name)]
	return ok, nil
}

// Get returns the NetworkTopology with the given name and loads its
// properties.
func (nt *NetworkTopologies) Get(ctx context.Context, name string) (*NetworkTopology, error) {
	if err := nt.ensure(ctx); err != nil {
		return nil, err
	}

	nt.mu.Lock()
	id, ok := nt.byName[strings.ToLower(name)]
	nt.mu.Unlock()
	if !ok {
		return nil, &SDKError{
			Op:         "NetworkTopologies.Get",
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no network topology exists with name %q", name),
		}
	}

	topology := &NetworkTopology{cc: nt.cc, name: strings.ToLower(name), id: id}
	if err := topology.Refresh(ctx); err != nil {
		return nil, err
	}
	return topology, nil
}

type topologyCreateResponse struct {
	Topology map[string]interface{} `json:"topology"`
}

// Add creates a new network topology from the given groups and returns it.
//
// A gateway topology takes servers, infrastructure and server gateway
// groups; a cascading topology adds a DMZ gateway group.
func (nt *NetworkTopologies) Add(ctx context.Context, name string, groups []TopologyGroup, opts TopologyOptions) (*NetworkTopology, error) {
	exists, err := nt.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &SDKError{Op: "NetworkTopologies.Add",
			Message: fmt.Sprintf("network topology %q already exists", name)}
	}

	opts.applyDefaults()

	firewallGroups, mnemonics, err := firewallGroupsJSON(groups)
	if err != nil {
		return nil, err
	}
	if err := verifySmartTopology(opts.SmartTopology, mnemonics); err != nil {
		return nil, err
	}

	request := map[string]interface{}{
		"firewallTopology": map[string]interface{}{
			"useWildcardProxy":   opts.UseWildcardProxy,
			"extendedProperties": opts.extendedProperties(),
			"topologyType":       opts.Type,
			"description":        opts.Description,
			"isSmartTopology":    opts.SmartTopology,
			"firewallGroups":     firewallGroups,
			"topologyEntity":     map[string]string{"topologyName": name},
		},
	}

	var reply topologyCreateResponse
	if err := nt.cc.t.do(ctx, "NetworkTopologies.Add", http.MethodPost, svcNetworkTopologies, request, &reply); err != nil {
		return nil, err
	}
	if reply.Topology == nil {
		return nil, &SDKError{Op: "NetworkTopologies.Add", Endpoint: svcNetworkTopologies,
			Message: "failed to create network topology"}
	}

	if err := nt.fetch(ctx); err != nil {
		return nil, err
	}
	return nt.Get(ctx, name)
}

// Delete removes the topology with the given name.
func (nt *NetworkTopologies) Delete(ctx context.Context, name string) error {
	nt.mu.Lock()
	id, ok := nt.byName[strings.ToLower(name)]
	nt.mu.Unlock()
	if !ok {
		if err := nt.ensure(ctx); err != nil {
			return err
		}
		nt.mu.Lock()
		id, ok = nt.byName[strings.ToLower(name)]
		nt.mu.Unlock()
	}
	if !ok {
		return &SDKError{
			Op:         "NetworkTopologies.Delete",
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no network topology exists with name %q", name),
		}
	}

	endpoint := fmt.Sprintf(svcNetworkTopology, id)
	if err := nt.cc.t.do(ctx, "NetworkTopologies.Delete", http.MethodDelete, endpoint, nil, nil); err != nil {
		return err
	}
	return nt.fetch(ctx)
}

// Refresh re-fetches the topology list.
func (nt *NetworkTopologies) Refresh(ctx context.Context) error {
	return nt.fetch(ctx)
}

// NetworkTopology is a single network topology and its last-fetched
// properties.
type NetworkTopology struct {
	cc   *Commcell
	name string
	id   string

	topologyType   int
	description    string
	extendedProps  string
	firewallGroups []interface{}
	props          map[string]interface{}
}

type topologyInfoResponse struct {
	TopologyInfo struct {
		TopologyType       int           `json:"topologyType"`
		Description        string        `json:"description"`
		ExtendedProperties string        `json:"extendedProperties"`
		FirewallGroups     []interface{} `json:"firewallGroups"`
		TopologyEntity     struct {
			TopologyName string `json:"topologyName"`
		} `json:"topologyEntity"`
	} `json:"topologyInfo"`
}

// Name returns the topology name.
func (t *NetworkTopology) Name() string { return t.name }

// ID returns the topology ID assigned by the server.
func (t *NetworkTopology) ID() string { return t.id }

// Type returns the topology type from the last-fetched properties.
func (t *NetworkTopology) Type() int { return t.topologyType }

// Description returns the description from the last-fetched properties.
func (t *NetworkTopology) Description() string { return t.description }

// FirewallGroups returns the raw firewall group nodes of the topology.
func (t *NetworkTopology) FirewallGroups() []interface{} { return t.firewallGroups }

// Properties returns the raw last-fetched topology document.
func (t *NetworkTopology) Properties() map[string]interface{} { return t.props }

// Refresh re-fetches the topology properties from the server.
func (t *NetworkTopology) Refresh(ctx context.Context) error {
	endpoint := fmt.Sprintf(svcNetworkTopology, t.id)

	var raw map[string]interface{}
	if err := t.cc.t.do(ctx, "NetworkTopology.Refresh", http.MethodGet, endpoint, nil, &raw); err != nil {
		return err
	}

	var reply topologyInfoResponse
	if err := remarshal(raw, &reply); err != nil || reply.TopologyInfo.TopologyEntity.TopologyName == "" {
		return &SDKError{Op: "NetworkTopology.Refresh", Endpoint: endpoint,
			Message: "failed to get network topology properties"}
	}

	info := reply.TopologyInfo
	t.name = strings.ToLower(info.TopologyEntity.TopologyName)
	t.topologyType = info.TopologyType
	t.description = info.Description
	t.extendedProps = info.ExtendedProperties
	t.firewallGroups = info.FirewallGroups
	if topologyInfo, ok := raw["topologyInfo"].(map[string]interface{}); ok {
		t.props = topologyInfo
	}
	return nil
}

// UpdateTopology changes topology properties in place. Nil groups keep the
// current firewall groups; an empty Name keeps the current name.
type UpdateTopology struct {
	Name    string
	Groups  []TopologyGroup
	Options TopologyOptions
}

// Update rewrites the topology with the given changes.
func (t *NetworkTopology) Update(ctx context.Context, update UpdateTopology) error {
	firewallGroups := t.firewallGroups
	mnemonics := 0
	if update.Groups != nil {
		var err error
		firewallGroups, mnemonics, err = firewallGroupsJSON(update.Groups)
		if err != nil {
			return err
		}
	}
	if err := verifySmartTopology(update.Options.SmartTopology, mnemonics); err != nil {
		return err
	}

	name := update.Name
	if name == "" {
		name = t.name
	}
	opts := update.Options
	if opts.Type == 0 {
		opts.Type = t.topologyType
	}
	if opts.Description == "" {
		opts.Description = t.description
	}
	opts.applyDefaults()

	request := map[string]interface{}{
		"firewallTopology": map[string]interface{}{
			"useWildcardProxy":   opts.UseWildcardProxy,
			"extendedProperties": opts.extendedProperties(),
			"topologyType":       opts.Type,
			"description":        opts.Description,
			"isSmartTopology":    opts.SmartTopology,
			"firewallGroups":     firewallGroups,
			"topologyEntity":     map[string]string{"topologyName": name},
		},
	}

	endpoint := fmt.Sprintf(svcNetworkTopology, t.id)
	if err := t.cc.t.do(ctx, "NetworkTopology.Update", http.MethodPut, endpoint, request, nil); err != nil {
		return err
	}

	t.name = strings.ToLower(name)
	return t.Refresh(ctx)
}

// Rename changes the topology name.
func (t *NetworkTopology) Rename(ctx context.Context, name string) error {
	return t.Update(ctx, UpdateTopology{Name: name})
}

// PushNetworkConfig pushes the network configuration to all client groups of
// the topology.
func (t *NetworkTopology) PushNetworkConfig(ctx context.Context) error {
	endpoint := fmt.Sprintf(svcPushTopology, t.id)
	return t.cc.t.do(ctx, "NetworkTopology.Push", http.MethodPost, endpoint, nil, nil)
}
