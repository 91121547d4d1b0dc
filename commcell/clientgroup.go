package commcell

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Client group operation types used in the update envelope.
const (
	clientGroupOpCreate = 1
	clientGroupOpUpdate = 2
)

// Association operation types for adding or removing member clients.
const (
	clientsOpAdd       = 1
	clientsOpOverwrite = 2
	clientsOpDelete    = 3
)

// ClientGroups represents all client groups configured on the Commcell.
type ClientGroups struct {
	cc *Commcell

	mu      sync.Mutex
	byName  map[string]string // lowercase group name -> group ID
	fetched bool
}

type clientGroupsListResponse struct {
	Groups []struct {
		ID   int    `json:"Id"`
		Name string `json:"name"`
	} `json:"groups"`
}

func (g *ClientGroups) fetch(ctx context.Context) error {
	var reply clientGroupsListResponse
	if err := g.cc.t.do(ctx, "ClientGroups.List", http.MethodGet, svcClientGroups, nil, &reply); err != nil {
		return err
	}

	byName := make(map[string]string, len(reply.Groups))
	for _, grp := range reply.Groups {
		byName[strings.ToLower(grp.Name)] = strconv.Itoa(grp.ID)
	}

	g.mu.Lock()
	g.byName = byName
	g.fetched = true
	g.mu.Unlock()
	return nil
}

func (g *ClientGroups) ensure(ctx context.Context) error {
	g.mu.Lock()
	fetched := g.fetched
	g.mu.Unlock()
	if fetched {
		return nil
	}
	return g.fetch(ctx)
}

// All returns the names of all client groups mapped to their IDs.
func (g *ClientGroups) All(ctx context.Context) (map[string]string, error) {
	if err := g.ensure(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.byName))
	for name, id := range g.byName {
		out[name] = id
	}
	return out, nil
}

// Has reports whether a client group with the given name exists.
func (g *ClientGroups) Has(ctx context.Context, name string) (bool, error) {
	if err := g.ensure(ctx); err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.byName[strings.ToLower(name)]
	return ok, nil
}

// Add creates a new client group with the given member clients. Member
// names are validated against the Commcell's client list; unknown names are
// rejected before any request is sent.
func (g *ClientGroups) Add(ctx context.Context, name, description string, clients []string) (*ClientGroup, error) {
	if exists, err := g.Has(ctx, name); err != nil {
		return nil, err
	} else if exists {
		return nil, &SDKError{Op: "ClientGroups.Add",
			Message: fmt.Sprintf("client group %q already exists", name)}
	}

	valid, err := g.validClients(ctx, clients)
	if err != nil {
		return nil, err
	}

	associated := make([]map[string]string, 0, len(valid))
	for _, client := range valid {
		associated = append(associated, map[string]string{"clientName": client})
	}

	request := map[string]interface{}{
		"clientGroupOperationType": clientGroupOpCreate,
		"clientGroupDetail": map[string]interface{}{
			"description": description,
			"clientGroup": map[string]string{
				"clientGroupName": name,
			},
			"associatedClients": associated,
		},
	}

	if err := g.cc.t.do(ctx, "ClientGroups.Add", http.MethodPost, svcClientGroups, request, nil); err != nil {
		return nil, err
	}

	if err := g.fetch(ctx); err != nil {
		return nil, err
	}
	return g.Get(ctx, name)
}

// validClients filters the given names down to clients that exist on the
// Commcell, erroring when any name is unknown.
func (g *ClientGroups) validClients(ctx context.Context, clients []string) ([]string, error) {
	all, err := g.cc.Clients().All(ctx)
	if err != nil {
		return nil, err
	}

	valid := make([]string, 0, len(clients))
	for _, name := range clients {
		key := strings.ToLower(name)
		if _, ok := all[key]; !ok {
			return nil, &SDKError{Op: "ClientGroups.Add",
				Message: fmt.Sprintf("no client exists with name %q", name)}
		}
		valid = append(valid, key)
	}
	return valid, nil
}

// Get returns the ClientGroup with the given name and loads its properties.
func (g *ClientGroups) Get(ctx context.Context, name string) (*ClientGroup, error) {
	if err := g.ensure(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	id, ok := g.byName[strings.ToLower(name)]
	g.mu.Unlock()
	if !ok {
		return nil, &SDKError{
			Op:         "ClientGroups.Get",
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no client group exists with name %q", name),
		}
	}

	group := &ClientGroup{cc: g.cc, name: strings.ToLower(name), id: id}
	if err := group.Refresh(ctx); err != nil {
		return nil, err
	}
	return group, nil
}

// Delete removes the client group from the Commcell.
func (g *ClientGroups) Delete(ctx context.Context, name string) error {
	group, err := g.Get(ctx, name)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf(svcClientGroup, group.id)
	if err := g.cc.t.do(ctx, "ClientGroups.Delete", http.MethodDelete, endpoint, nil, nil); err != nil {
		return err
	}
	return g.fetch(ctx)
}

// Refresh re-fetches the client group list.
func (g *ClientGroups) Refresh(ctx context.Context) error {
	return g.fetch(ctx)
}

// SmartRule is one filter rule of a smart client group.
type SmartRule struct {
	Filter    string `json:"filter"`
	Prop      string `json:"prop"`
	Value     string `json:"value"`
	Condition int    `json:"secValue,omitempty"`
}

// CreateSmartRule builds a smart client group rule from a filter name, a
// match condition and a value, in the shape the server expects inside an
// scgRule node.
func CreateSmartRule(filterRule, filterCondition, filterValue string) map[string]interface{} {
	// Condition words map onto the server's filter operator IDs.
	conditions := map[string]int{
		"equal to":         0,
		"not equal to":     1,
		"any in selection": 9,
		"contains":         12,
	}

	op, ok := conditions[strings.ToLower(filterCondition)]
	if !ok {
		op = 0
	}

	return map[string]interface{}{
		"rule": map[string]interface{}{
			"filterID":  op,
			"propID":    filterRule,
			"propValue": filterValue,
		},
	}
}

// MergeSmartRules combines rules into a single scgRule node with the given
// match operator ("all" or "any").
func MergeSmartRules(rules []map[string]interface{}, matchOperator string) map[string]interface{} {
	op := 0 // all
	if strings.EqualFold(matchOperator, "any") {
		op = 1
	}

	return map[string]interface{}{
		"op":    op,
		"rules": rules,
	}
}

// ClientGroup is a single client group of the Commcell, a cache of its
// last-fetched properties plus operations on it.
type ClientGroup struct {
	cc   *Commcell
	name string
	id   string

	description       string
	associatedClients []string
	backupEnabled     bool
	restoreEnabled    bool
	dataAgingEnabled  bool
	props             map[string]interface{}
}

type clientGroupDetailResponse struct {
	ClientGroupDetail struct {
		Description string `json:"description"`
		ClientGroup struct {
			ClientGroupName string `json:"clientGroupName"`
			ClientGroupID   int    `json:"clientGroupId"`
		} `json:"clientGroup"`
		AssociatedClients []struct {
			ClientName string `json:"clientName"`
		} `json:"associatedClients"`
		ClientGroupActivityControl struct {
			ActivityControlOptions []struct {
				ActivityType       int  `json:"activityType"`
				EnableActivityType bool `json:"enableActivityType"`
			} `json:"activityControlOptions"`
		} `json:"clientGroupActivityControl"`
	} `json:"clientGroupDetail"`
}

// Name returns the client group name.
func (g *ClientGroup) Name() string { return g.name }

// ID returns the client group ID assigned by the server.
func (g *ClientGroup) ID() string { return g.id }

// Description returns the description from the last-fetched properties.
func (g *ClientGroup) Description() string { return g.description }

// AssociatedClients returns the member client names from the last-fetched
// properties.
func (g *ClientGroup) AssociatedClients() []string { return g.associatedClients }

// IsBackupEnabled reports whether backup activity is enabled on the group.
func (g *ClientGroup) IsBackupEnabled() bool { return g.backupEnabled }

// IsRestoreEnabled reports whether restore activity is enabled on the group.
func (g *ClientGroup) IsRestoreEnabled() bool { return g.restoreEnabled }

// IsDataAgingEnabled reports whether data aging is enabled on the group.
func (g *ClientGroup) IsDataAgingEnabled() bool { return g.dataAgingEnabled }

// Properties returns the raw last-fetched properties document.
func (g *ClientGroup) Properties() map[string]interface{} { return g.props }

// Refresh re-fetches the client group properties from the server.
func (g *ClientGroup) Refresh(ctx context.Context) error {
	endpoint := fmt.Sprintf(svcClientGroup, g.id)

	var raw map[string]interface{}
	if err := g.cc.t.do(ctx, "ClientGroup.Refresh", http.MethodGet, endpoint, nil, &raw); err != nil {
		return err
	}

	var reply clientGroupDetailResponse
	if err := remarshal(raw, &reply); err != nil {
		return &SDKError{Op: "ClientGroup.Refresh", Endpoint: endpoint,
			Message: "failed to get client group properties"}
	}

	detail := reply.ClientGroupDetail
	g.description = detail.Description
	g.props = raw

	g.associatedClients = g.associatedClients[:0]
	for _, client := range detail.AssociatedClients {
		g.associatedClients = append(g.associatedClients, strings.ToLower(client.ClientName))
	}

	g.backupEnabled, g.restoreEnabled, g.dataAgingEnabled = true, true, true
	for _, opt := range detail.ClientGroupActivityControl.ActivityControlOptions {
		switch opt.ActivityType {
		case activityBackup:
			g.backupEnabled = opt.EnableActivityType
		case activityRestore:
			g.restoreEnabled = opt.EnableActivityType
		case activityDataAging:
			g.dataAgingEnabled = opt.EnableActivityType
		}
	}
	return nil
}

// activityRequest builds the activity-control update envelope shared by the
// enable/disable operations for all three activity types.
func (g *ClientGroup) activityRequest(activityType int, enable bool) map[string]interface{} {
	return map[string]interface{}{
		"clientGroupOperationType": clientGroupOpUpdate,
		"clientGroupDetail": map[string]interface{}{
			"clientGroup": map[string]string{
				"clientGroupName": g.name,
			},
			"clientGroupActivityControl": map[string]interface{}{
				"activityControlOptions": []interface{}{
					map[string]interface{}{
						"activityType":       activityType,
						"enableAfterADelay":  false,
						"enableActivityType": enable,
					},
				},
			},
		},
	}
}

func (g *ClientGroup) update(ctx context.Context, op string, request map[string]interface{}) error {
	endpoint := fmt.Sprintf(svcClientGroup, g.id)
	if err := g.cc.t.do(ctx, op, http.MethodPost, endpoint, request, nil); err != nil {
		return err
	}
	return g.Refresh(ctx)
}

// EnableBackup enables backup activity for the client group.
func (g *ClientGroup) EnableBackup(ctx context.Context) error {
	return g.update(ctx, "ClientGroup.EnableBackup", g.activityRequest(activityBackup, true))
}

// DisableBackup disables backup activity for the client group.
func (g *ClientGroup) DisableBackup(ctx context.Context) error {
	return g.update(ctx, "ClientGroup.DisableBackup", g.activityRequest(activityBackup, false))
}

// EnableRestore enables restore activity for the client group.
func (g *ClientGroup) EnableRestore(ctx context.Context) error {
	return g.update(ctx, "ClientGroup.EnableRestore", g.activityRequest(activityRestore, true))
}

// DisableRestore disables restore activity for the client group.
func (g *ClientGroup) DisableRestore(ctx context.Context) error {
	return g.update(ctx, "ClientGroup.DisableRestore", g.activityRequest(activityRestore, false))
}

// EnableDataAging enables data aging for the client group.
func (g *ClientGroup) EnableDataAging(ctx context.Context) error {
	return g.update(ctx, "ClientGroup.EnableDataAging", g.activityRequest(activityDataAging, true))
}

// DisableDataAging disables data aging for the client group.
func (g *ClientGroup) DisableDataAging(ctx context.Context) error {
	return g.update(ctx, "ClientGroup.DisableDataAging", g.activityRequest(activityDataAging, false))
}

// addOrRemoveClients updates group membership with the given association
// operation type, validating the client names first.
func (g *ClientGroup) addOrRemoveClients(ctx context.Context, op string, clients []string, opType int) error {
	valid, err := g.cc.ClientGroups().validClients(ctx, clients)
	if err != nil {
		return err
	}
	if len(valid) == 0 {
		return &SDKError{Op: op, Message: "no valid clients to update"}
	}

	associated := make([]map[string]string, 0, len(valid))
	for _, client := range valid {
		associated = append(associated, map[string]string{"clientName": client})
	}

	request := map[string]interface{}{
		"clientGroupOperationType": clientGroupOpUpdate,
		"clientGroupDetail": map[string]interface{}{
			"clientGroup": map[string]string{
				"clientGroupName": g.name,
			},
			"associatedClientsOperationType": opType,
			"associatedClients":              associated,
		},
	}

	return g.update(ctx, op, request)
}

// AddClients adds the given clients to the group, keeping existing members.
// With overwrite set, the group membership is replaced instead.
func (g *ClientGroup) AddClients(ctx context.Context, clients []string, overwrite bool) error {
	opType := clientsOpAdd
	if overwrite {
		opType = clientsOpOverwrite
	}
	return g.addOrRemoveClients(ctx, "ClientGroup.AddClients", clients, opType)
}

// RemoveClients removes the given clients from the group.
func (g *ClientGroup) RemoveClients(ctx context.Context, clients []string) error {
	return g.addOrRemoveClients(ctx, "ClientGroup.RemoveClients", clients, clientsOpDelete)
}

// SetDescription updates the group description.
func (g *ClientGroup) SetDescription(ctx context.Context, description string) error {
	request := map[string]interface{}{
		"clientGroupOperationType": clientGroupOpUpdate,
		"clientGroupDetail": map[string]interface{}{
			"description": description,
			"clientGroup": map[string]string{
				"clientGroupName": g.name,
			},
		},
	}
	return g.update(ctx, "ClientGroup.SetDescription", request)
}

// Rename changes the client group name on the server.
func (g *ClientGroup) Rename(ctx context.Context, newName string) error {
	request := map[string]interface{}{
		"clientGroupOperationType": clientGroupOpUpdate,
		"clientGroupDetail": map[string]interface{}{
			"clientGroup": map[string]string{
				"clientGroupNewName": newName,
			},
		},
	}
	if err := g.update(ctx, "ClientGroup.Rename", request); err != nil {
		return err
	}
	g.name = strings.ToLower(newName)
	return nil
}

// Network returns the network configuration wrapper for this client group.
func (g *ClientGroup) Network() *Network {
	return &Network{cc: g.cc, entityName: g.name, entityID: g.id, entityKind: networkEntityClientGroup}
}
