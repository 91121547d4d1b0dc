package commcell

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// backupStagger is the delay between starting backups of consecutive
// subclients, to avoid stampeding the job manager.
const backupStagger = 2 * time.Second

// maxParallelBackups bounds the number of subclient backups started
// concurrently by Backupset.Backup.
const maxParallelBackups = 10

// Backupsets represents the backupsets of one client/agent pair.
type Backupsets struct {
	cc     *Commcell
	client *Client
	agent  Agent

	mu      sync.Mutex
	byName  map[string]string // lowercase backupset name -> backupset ID
	fetched bool
}

type backupsetEntity struct {
	ClientID      int    `json:"clientId"`
	ClientName    string `json:"clientName"`
	ApplicationID int    `json:"applicationId"`
	InstanceID    int    `json:"instanceId"`
	BackupsetID   int    `json:"backupsetId"`
	BackupsetName string `json:"backupsetName"`
}

type backupsetsListResponse struct {
	BackupsetProperties []struct {
		BackupSetEntity backupsetEntity `json:"backupSetEntity"`
	} `json:"backupsetProperties"`
}

func (b *Backupsets) endpoint() string {
	return fmt.Sprintf(svcBackupsets, b.client.id, strconv.Itoa(int(b.agent)))
}

func (b *Backupsets) fetch(ctx context.Context) error {
	var reply backupsetsListResponse
	if err := b.cc.t.do(ctx, "Backupsets.List", http.MethodGet, b.endpoint(), nil, &reply); err != nil {
		return err
	}

	byName := make(map[string]string, len(reply.BackupsetProperties))
	for _, prop := range reply.BackupsetProperties {
		entity := prop.BackupSetEntity
		byName[strings.ToLower(entity.BackupsetName)] = strconv.Itoa(entity.BackupsetID)
	}

	b.mu.Lock()
	b.byName = byName
	b.fetched = true
	b.mu.Unlock()
	return nil
}

func (b *Backupsets) ensure(ctx context.Context) error {
	b.mu.Lock()
	fetched := b.fetched
	b.mu.Unlock()
	if fetched {
		return nil
	}
	return b.fetch(ctx)
}

// All returns the backupset names mapped to their IDs.
func (b *Backupsets) All(ctx context.Context) (map[string]string, error) {
	if err := b.ensure(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.byName))
	for name, id := range b.byName {
		out[name] = id
	}
	return out, nil
}

// Has reports whether a backupset with the given name exists.
func (b *Backupsets) Has(ctx context.Context, name string) (bool, error) {
	if err := b.ensure(ctx); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.byName[strings.ToLower(name)]
	return ok, nil
}

// Add creates a new backupset for this client/agent pair.
func (b *Backupsets) Add(ctx context.Context, name string) (*Backupset, error) {
	if exists, err := b.Has(ctx, name); err != nil {
		return nil, err
	} else if exists {
		return nil, &SDKError{Op: "Backupsets.Add",
			Message: fmt.Sprintf("backupset %q already exists", name)}
	}

	request := map[string]interface{}{
		"association": map[string]interface{}{
			"entity": []interface{}{
				map[string]interface{}{
					"clientName":    b.client.name,
					"appName":       b.agent.String(),
					"backupsetName": name,
				},
			},
		},
	}

	if err := b.cc.t.do(ctx, "Backupsets.Add", http.MethodPost, svcAddBackupset, request, nil); err != nil {
		return nil, err
	}

	if err := b.fetch(ctx); err != nil {
		return nil, err
	}
	return b.Get(ctx, name)
}

// Get returns the Backupset with the given name and loads its properties.
func (b *Backupsets) Get(ctx context.Context, name string) (*Backupset, error) {
	if err := b.ensure(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	id, ok := b.byName[strings.ToLower(name)]
	b.mu.Unlock()
	if !ok {
		return nil, &SDKError{
			Op:         "Backupsets.Get",
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no backupset exists with name %q", name),
		}
	}

	bs := &Backupset{cc: b.cc, client: b.client, agent: b.agent, name: strings.ToLower(name), id: id}
	if err := bs.Refresh(ctx); err != nil {
		return nil, err
	}
	return bs, nil
}

// Delete removes the backupset from the client.
func (b *Backupsets) Delete(ctx context.Context, name string) error {
	bs, err := b.Get(ctx, name)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf(svcBackupset, bs.id)
	if err := b.cc.t.do(ctx, "Backupsets.Delete", http.MethodDelete, endpoint, nil, nil); err != nil {
		return err
	}
	return b.fetch(ctx)
}

// Refresh re-fetches the backupset list.
func (b *Backupsets) Refresh(ctx context.Context) error {
	return b.fetch(ctx)
}

// Backupset is a single backupset: a cache of its last-fetched properties
// plus backup and browse operations spanning its subclients.
type Backupset struct {
	cc     *Commcell
	client *Client
	agent  Agent
	name   string
	id     string

	entity      backupsetEntity
	description string
	isDefault   bool
	isOnDemand  bool
	planName    string
	props       map[string]interface{}
}

type backupsetPropertiesResponse struct {
	BackupsetProperties []struct {
		BackupSetEntity backupsetEntity `json:"backupSetEntity"`
		CommonBackupSet struct {
			IsDefaultBackupSet bool   `json:"isDefaultBackupSet"`
			OnDemandBackupset  bool   `json:"onDemandBackupset"`
			UserDescription    string `json:"userDescription"`
		} `json:"commonBackupSet"`
		PlanEntity struct {
			PlanName string `json:"planName"`
		} `json:"planEntity"`
	} `json:"backupsetProperties"`
}

// Name returns the backupset name.
func (b *Backupset) Name() string { return b.name }

// ID returns the backupset ID assigned by the server.
func (b *Backupset) ID() string { return b.id }

// IsDefault reports whether this is the default backupset of the agent.
func (b *Backupset) IsDefault() bool { return b.isDefault }

// IsOnDemand reports whether this is an on-demand backupset.
func (b *Backupset) IsOnDemand() bool { return b.isOnDemand }

// Description returns the user description from the last-fetched properties.
func (b *Backupset) Description() string { return b.description }

// PlanName returns the associated plan name, empty when no plan is attached.
func (b *Backupset) PlanName() string { return b.planName }

// Properties returns the raw last-fetched properties document.
func (b *Backupset) Properties() map[string]interface{} { return b.props }

// Refresh re-fetches the backupset properties from the server.
func (b *Backupset) Refresh(ctx context.Context) error {
	endpoint := fmt.Sprintf(svcBackupset, b.id)

	var raw map[string]interface{}
	if err := b.cc.t.do(ctx, "Backupset.Refresh", http.MethodGet, endpoint, nil, &raw); err != nil {
		return err
	}

	var reply backupsetPropertiesResponse
	if err := remarshal(raw, &reply); err != nil || len(reply.BackupsetProperties) == 0 {
		return &SDKError{Op: "Backupset.Refresh", Endpoint: endpoint,
			Message: "failed to get backupset properties"}
	}

	prop := reply.BackupsetProperties[0]
	b.entity = prop.BackupSetEntity
	b.name = strings.ToLower(prop.BackupSetEntity.BackupsetName)
	b.isDefault = prop.CommonBackupSet.IsDefaultBackupSet
	b.isOnDemand = prop.CommonBackupSet.OnDemandBackupset
	b.description = prop.CommonBackupSet.UserDescription
	b.planName = prop.PlanEntity.PlanName
	b.props = raw
	return nil
}

// SetDescription updates the backupset description.
func (b *Backupset) SetDescription(ctx context.Context, description string) error {
	return b.updateProperties(ctx, "Backupset.SetDescription", map[string]interface{}{
		"commonBackupSet": map[string]interface{}{
			"userDescription": description,
		},
	})
}

// Rename changes the backupset name on the server.
func (b *Backupset) Rename(ctx context.Context, newName string) error {
	err := b.updateProperties(ctx, "Backupset.Rename", map[string]interface{}{
		"backupSetEntity": map[string]interface{}{
			"backupsetName": newName,
		},
	})
	if err != nil {
		return err
	}
	b.name = strings.ToLower(newName)
	return nil
}

func (b *Backupset) updateProperties(ctx context.Context, op string, props map[string]interface{}) error {
	request := map[string]interface{}{
		"backupsetProperties": props,
		"association": map[string]interface{}{
			"entity": []interface{}{
				map[string]interface{}{
					"clientName":    b.client.name,
					"appName":       b.agent.String(),
					"backupsetName": b.name,
				},
			},
		},
	}

	endpoint := fmt.Sprintf(svcBackupset, b.id)
	if err := b.cc.t.do(ctx, op, http.MethodPost, endpoint, request, nil); err != nil {
		return err
	}
	return b.Refresh(ctx)
}

// Subclients returns the subclients of this backupset.
func (b *Backupset) Subclients() *Subclients {
	return &Subclients{cc: b.cc, backupset: b}
}

// Schedules returns the schedules associated with this backupset.
func (b *Backupset) Schedules() *Schedules {
	return &Schedules{cc: b.cc, scopeParam: "backupsetId=" + b.id}
}

// BackupResult pairs a subclient name with the outcome of its backup: the
// started Job on success, or the error that prevented it.
type BackupResult struct {
	Subclient string
	Job       *Job
	Err       error
}

// Backup starts a backup job for every subclient of the backupset.
//
// Subclient backups are started in parallel, bounded to a small number of
// concurrent starts and staggered by two seconds to avoid overwhelming the
// job manager. A failure to start one subclient's backup does not stop the
// others; each outcome is reported in the returned slice. Subclients with
// backup activity disabled or without a storage policy are skipped.
//
// The error return is non-nil only when the subclient list itself could not
// be fetched or ctx was cancelled.
func (b *Backupset) Backup(ctx context.Context, opts BackupOptions) ([]BackupResult, error) {
	subclients := b.Subclients()
	all, err := subclients.All(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}

	var (
		mu      sync.Mutex
		results []BackupResult
	)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelBackups)

submit:
	for i, name := range names {
		if i > 0 {
			select {
			case <-time.After(backupStagger):
			case <-gctx.Done():
				// Stop submitting, but wait for the in-flight starts
				// below; they abort promptly since they carry gctx.
				break submit
			}
		}

		name := name
		group.Go(func() error {
			result := BackupResult{Subclient: name}

			subclient, err := subclients.Get(gctx, name)
			switch {
			case err != nil:
				result.Err = err
			case !subclient.IsBackupEnabled():
				log.Debugf("Skipping subclient %q: backup activity disabled", name)
				return nil
			case subclient.StoragePolicy() == "" && b.planName == "":
				log.Debugf("Skipping subclient %q: no storage policy assigned", name)
				return nil
			default:
				result.Job, result.Err = subclient.Backup(gctx, opts)
			}

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// Browse lists the backed-up content of the backupset under the options'
// path. It returns the matched paths and a map of per-path metadata.
func (b *Backupset) Browse(ctx context.Context, opts BrowseOptions) ([]string, map[string]BrowseItem, error) {
	opts.operation = browseOpBrowse
	return b.doBrowse(ctx, opts)
}

// Find searches the backed-up content of the backupset for items matching
// the options' filters.
func (b *Backupset) Find(ctx context.Context, opts BrowseOptions) ([]string, map[string]BrowseItem, error) {
	opts.operation = browseOpFind
	if opts.Path == "" && len(opts.Paths) == 0 {
		opts.Path = "\\**\\*"
	}
	return b.doBrowse(ctx, opts)
}

// AllVersions lists every stored version of the items under the options'
// path, keyed by item path.
func (b *Backupset) AllVersions(ctx context.Context, opts BrowseOptions) (map[string][]BrowseItem, error) {
	opts.operation = browseOpAllVersions
	opts.applyDefaults()

	var reply browseResponse
	if err := b.cc.t.do(ctx, "Backupset.AllVersions", http.MethodPost, svcBrowse, b.browseRequest(opts), &reply); err != nil {
		return nil, err
	}
	return parseAllVersionsResponse(&reply, opts)
}

func (b *Backupset) doBrowse(ctx context.Context, opts BrowseOptions) ([]string, map[string]BrowseItem, error) {
	opts.applyDefaults()

	request := b.browseRequest(opts)

	var reply browseResponse
	if err := b.cc.t.do(ctx, "Backupset.Browse", http.MethodPost, svcBrowse, request, &reply); err != nil {
		return nil, nil, err
	}

	return parseBrowseResponse(&reply, opts)
}
