package commcell

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// ResourcePoolType is the workload type a resource pool serves.
type ResourcePoolType int

// Resource pool types reported by the server.
const (
	PoolGeneric             ResourcePoolType = 0
	PoolO365                ResourcePoolType = 1
	PoolSalesforce          ResourcePoolType = 2
	PoolExchange            ResourcePoolType = 3
	PoolSharePoint          ResourcePoolType = 4
	PoolOneDrive            ResourcePoolType = 5
	PoolTeams               ResourcePoolType = 6
	PoolDynamics365         ResourcePoolType = 7
	PoolVSA                 ResourcePoolType = 8
	PoolFileSystem          ResourcePoolType = 9
	PoolKubernetes          ResourcePoolType = 10
	PoolAzureAD             ResourcePoolType = 11
	PoolCloudLaptop         ResourcePoolType = 12
	PoolFileStorageOpt      ResourcePoolType = 13
	PoolDataGovernance      ResourcePoolType = 14
	PoolEDiscovery          ResourcePoolType = 15
	PoolCloudDB             ResourcePoolType = 16
	PoolObjectStorage       ResourcePoolType = 17
	PoolGmail               ResourcePoolType = 18
	PoolGoogleDrive         ResourcePoolType = 19
	PoolGoogleWorkspace     ResourcePoolType = 20
	PoolServiceNow          ResourcePoolType = 21
	PoolThreatScan          ResourcePoolType = 22
	PoolDevOps              ResourcePoolType = 23
	PoolRiskAnalysis        ResourcePoolType = 24
	PoolGoogleCloudPlatform ResourcePoolType = 50001
)

// ResourcePools represents the resource pools configured on the Commcell.
type ResourcePools struct {
	cc *Commcell

	mu      sync.Mutex
	byName  map[string]string // lowercase pool name -> pool ID
	fetched bool
}

type resourcePoolsListResponse struct {
	ResourcePools []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"resourcePools"`
}

func (rp *ResourcePools) fetch(ctx context.Context) error {
	var reply resourcePoolsListResponse
	if err := rp.cc.t.do(ctx, "ResourcePools.List", http.MethodGet, svcResourcePools, nil, &reply); err != nil {
		return err
	}

	byName := make(map[string]string, len(reply.ResourcePools))
	for _, pool := range reply.ResourcePools {
		if pool.Name != "" {
			byName[strings.ToLower(pool.Name)] = strconv.Itoa(pool.ID)
		}
	}

	rp.mu.Lock()
	rp.byName = byName
	rp.fetched = true
	rp.mu.Unlock()
	return nil
}

func (rp *ResourcePools) ensure(ctx context.Context) error {
	rp.mu.Lock()
	fetched := rp.fetched
	rp.mu.Unlock()
	if fetched {
		return nil
	}
	return rp.fetch(ctx)
}

// All returns the pool names mapped to their IDs.
func (rp *ResourcePools) All(ctx context.Context) (map[string]string, error) {
	if err := rp.ensure(ctx); err != nil {
		return nil, err
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()
	out := make(map[string]string, len(rp.byName))
	for name, id := range rp.byName {
		out[name] = id
	}
	return out, nil
}

// Has reports whether a pool with the given name exists.
func (rp *ResourcePools) Has(ctx context.Context, name string) (bool, error) {
	if err := rp.ensure(ctx); err != nil {
		return false, err
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()
	_, ok := rp.byName[strings.ToLower(name)]
	return ok, nil
}

// Get returns the ResourcePool with the given name and loads its details.
func (rp *ResourcePools) Get(ctx context.Context, name string) (*ResourcePool, error) {
	if err := rp.ensure(ctx); err != nil {
		return nil, err
	}

	rp.mu.Lock()
	id, ok := rp.byName[strings.ToLower(name)]
	rp.mu.Unlock()
	if !ok {
		return nil, &SDKError{
			Op:         "ResourcePools.Get",
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no resource pool exists with name %q", name),
		}
	}

	pool := &ResourcePool{cc: rp.cc, name: strings.ToLower(name), id: id}
	if err := pool.Refresh(ctx); err != nil {
		return nil, err
	}
	return pool, nil
}

// CreatePoolOptions configure ResourcePools.Create.
type CreatePoolOptions struct {
	// IndexServer names the index server the pool uses. Required for
	// threat scan pools.
	IndexServer string
}

// Create makes a new resource pool. Only threat scan pools can be created
// through this endpoint; other pool types are server-managed.
func (rp *ResourcePools) Create(ctx context.Context, name string, poolType ResourcePoolType, opts CreatePoolOptions) (*ResourcePool, error) {
	if poolType != PoolThreatScan {
		return nil, &SDKError{Op: "ResourcePools.Create",
			Message: "resource pool creation is not supported for this resource type"}
	}
	if opts.IndexServer == "" {
		return nil, &SDKError{Op: "ResourcePools.Create",
			Message: "index server name is required for a threat scan pool"}
	}

	exists, err := rp.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &SDKError{Op: "ResourcePools.Create",
			Message: fmt.Sprintf("resource pool %q already exists", name)}
	}

	indexServerID := 0
	if client, err := rp.cc.Clients().Get(ctx, opts.IndexServer); err == nil {
		indexServerID, _ = atoiSafe(client.ID())
	}

	request := map[string]interface{}{
		"resourcePool": map[string]interface{}{
			"appType":         int(poolType),
			"dataAccessNodes": []interface{}{},
			"extendedProp": map[string]interface{}{
				"exchangeOnePassClientProperties": map[string]interface{}{},
			},
			"resourcePool": map[string]interface{}{
				"resourcePoolId":   0,
				"resourcePoolName": name,
			},
			"exchangeServerProps": map[string]interface{}{
				"jobResultsDirCredentials": map[string]string{"userName": ""},
				"jobResultsDirPath":        "",
			},
			"roleId":             nil,
			"indexServerMembers": []interface{}{},
			"indexServer": map[string]interface{}{
				"clientId":    indexServerID,
				"clientName":  opts.IndexServer,
				"displayName": opts.IndexServer,
				"selected":    true,
			},
			"accessNodes": map[string]interface{}{
				"clientGroups": []interface{}{},
				"clients":      []interface{}{},
			},
		},
	}

	if err := rp.cc.t.do(ctx, "ResourcePools.Create", http.MethodPost, svcResourcePools, request, nil); err != nil {
		return nil, err
	}

	if err := rp.fetch(ctx); err != nil {
		return nil, err
	}
	return rp.Get(ctx, name)
}

// Delete removes the pool with the given name.
func (rp *ResourcePools) Delete(ctx context.Context, name string) error {
	if err := rp.ensure(ctx); err != nil {
		return err
	}

	rp.mu.Lock()
	id, ok := rp.byName[strings.ToLower(name)]
	rp.mu.Unlock()
	if !ok {
		return &SDKError{
			Op:         "ResourcePools.Delete",
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no resource pool exists with name %q", name),
		}
	}

	endpoint := fmt.Sprintf(svcResourcePool, id)
	if err := rp.cc.t.do(ctx, "ResourcePools.Delete", http.MethodDelete, endpoint, nil, nil); err != nil {
		return err
	}
	return rp.fetch(ctx)
}

// Refresh re-fetches the pool list.
func (rp *ResourcePools) Refresh(ctx context.Context) error {
	return rp.fetch(ctx)
}

// ResourcePool is a single resource pool and its last-fetched details.
type ResourcePool struct {
	cc   *Commcell
	name string
	id   string

	poolType ResourcePoolType
	props    map[string]interface{}
}

type resourcePoolDetailsResponse struct {
	ResourcePool struct {
		AppType      int `json:"appType"`
		ResourcePool struct {
			ResourcePoolID   int    `json:"resourcePoolId"`
			ResourcePoolName string `json:"resourcePoolName"`
		} `json:"resourcePool"`
	} `json:"resourcePool"`
}

// Name returns the pool name.
func (p *ResourcePool) Name() string { return p.name }

// ID returns the pool ID assigned by the server.
func (p *ResourcePool) ID() string { return p.id }

// Type returns the pool type from the last-fetched details.
func (p *ResourcePool) Type() ResourcePoolType { return p.poolType }

// Properties returns the raw last-fetched pool document.
func (p *ResourcePool) Properties() map[string]interface{} { return p.props }

// Refresh re-fetches the pool details from the server.
func (p *ResourcePool) Refresh(ctx context.Context) error {
	endpoint := fmt.Sprintf(svcResourcePool, p.id)

	var raw map[string]interface{}
	if err := p.cc.t.do(ctx, "ResourcePool.Refresh", http.MethodGet, endpoint, nil, &raw); err != nil {
		return err
	}

	var reply resourcePoolDetailsResponse
	if err := remarshal(raw, &reply); err != nil || reply.ResourcePool.ResourcePool.ResourcePoolName == "" {
		return &SDKError{Op: "ResourcePool.Refresh", Endpoint: endpoint,
			Message: "failed to get resource pool details"}
	}

	p.poolType = ResourcePoolType(reply.ResourcePool.AppType)
	if pool, ok := raw["resourcePool"].(map[string]interface{}); ok {
		p.props = pool
	}
	return nil
}
