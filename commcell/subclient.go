package commcell

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// BackupLevel is the level of a backup job.
type BackupLevel string

// Backup levels accepted by Subclient.Backup.
const (
	BackupFull          BackupLevel = "Full"
	BackupIncremental   BackupLevel = "Incremental"
	BackupDifferential  BackupLevel = "Differential"
	BackupSyntheticFull BackupLevel = "Synthetic_full"
)

var validBackupLevels = map[string]struct{}{
	"full":           {},
	"incremental":    {},
	"differential":   {},
	"synthetic_full": {},
}

// IncrementalLevel specifies when the incremental part of a synthetic full
// backup runs.
type IncrementalLevel string

const (
	BeforeSynth IncrementalLevel = "BEFORE_SYNTH"
	AfterSynth  IncrementalLevel = "AFTER_SYNTH"
)

// BackupOptions control a subclient backup job.
type BackupOptions struct {
	// Level of the backup; defaults to Incremental.
	Level BackupLevel

	// RunIncremental runs an incremental backup as part of a synthetic
	// full. Only honored when Level is BackupSyntheticFull.
	RunIncremental bool

	// IncrementalLevel places the incremental relative to the synthetic
	// full; defaults to BeforeSynth.
	IncrementalLevel IncrementalLevel

	// CollectMetadata collects metadata during the backup.
	CollectMetadata bool
}

// Subclients represents the subclients of one backupset.
type Subclients struct {
	cc        *Commcell
	backupset *Backupset

	mu      sync.Mutex
	byName  map[string]string // lowercase subclient name -> subclient ID
	fetched bool
}

type subclientsListResponse struct {
	SubClientProperties []struct {
		SubClientEntity struct {
			SubclientID   int    `json:"subclientId"`
			SubclientName string `json:"subclientName"`
		} `json:"subClientEntity"`
	} `json:"subClientProperties"`
}

func (s *Subclients) endpoint() string {
	return fmt.Sprintf(svcSubclients, s.backupset.client.id,
		strconv.Itoa(int(s.backupset.agent)), s.backupset.id)
}

func (s *Subclients) fetch(ctx context.Context) error {
	var reply subclientsListResponse
	if err := s.cc.t.do(ctx, "Subclients.List", http.MethodGet, s.endpoint(), nil, &reply); err != nil {
		return err
	}

	byName := make(map[string]string, len(reply.SubClientProperties))
	for _, prop := range reply.SubClientProperties {
		entity := prop.SubClientEntity
		byName[strings.ToLower(entity.SubclientName)] = strconv.Itoa(entity.SubclientID)
	}

	s.mu.Lock()
	s.byName = byName
	s.fetched = true
	s.mu.Unlock()
	return nil
}

func (s *Subclients) ensure(ctx context.Context) error {
	s.mu.Lock()
	fetched := s.fetched
	s.mu.Unlock()
	if fetched {
		return nil
	}
	return s.fetch(ctx)
}

// All returns the subclient names mapped to their IDs.
func (s *Subclients) All(ctx context.Context) (map[string]string, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.byName))
	for name, id := range s.byName {
		out[name] = id
	}
	return out, nil
}

// Has reports whether a subclient with the given name exists.
func (s *Subclients) Has(ctx context.Context, name string) (bool, error) {
	if err := s.ensure(ctx); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byName[strings.ToLower(name)]
	return ok, nil
}

// Get returns the Subclient with the given name and loads its properties.
func (s *Subclients) Get(ctx context.Context, name string) (*Subclient, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	id, ok := s.byName[strings.ToLower(name)]
	s.mu.Unlock()
	if !ok {
		return nil, &SDKError{
			Op:         "Subclients.Get",
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no subclient exists with name %q", name),
		}
	}

	sub := &Subclient{cc: s.cc, backupset: s.backupset, name: strings.ToLower(name), id: id}
	if err := sub.Refresh(ctx); err != nil {
		return nil, err
	}
	return sub, nil
}

// Refresh re-fetches the subclient list.
func (s *Subclients) Refresh(ctx context.Context) error {
	return s.fetch(ctx)
}

// Subclient is a single subclient: the unit of backup content below a
// backupset.
type Subclient struct {
	cc        *Commcell
	backupset *Backupset
	name      string
	id        string

	description   string
	storagePolicy string
	backupEnabled bool
	content       []string
	props         map[string]interface{}
}

type subclientPropertiesResponse struct {
	SubClientProperties []struct {
		SubClientEntity struct {
			SubclientID   int    `json:"subclientId"`
			SubclientName string `json:"subclientName"`
		} `json:"subClientEntity"`
		CommonProperties struct {
			Description   string `json:"description"`
			EnableBackup  bool   `json:"enableBackup"`
			StorageDevice struct {
				DataBackupStoragePolicy struct {
					StoragePolicyName string `json:"storagePolicyName"`
				} `json:"dataBackupStoragePolicy"`
			} `json:"storageDevice"`
		} `json:"commonProperties"`
		Content []struct {
			Path string `json:"path"`
		} `json:"content"`
	} `json:"subClientProperties"`
}

// Name returns the subclient name.
func (s *Subclient) Name() string { return s.name }

// ID returns the subclient ID assigned by the server.
func (s *Subclient) ID() string { return s.id }

// Description returns the description from the last-fetched properties.
func (s *Subclient) Description() string { return s.description }

// StoragePolicy returns the storage policy name, empty when none is set.
func (s *Subclient) StoragePolicy() string { return s.storagePolicy }

// IsBackupEnabled reports whether backup activity is enabled.
func (s *Subclient) IsBackupEnabled() bool { return s.backupEnabled }

// Content returns the content paths of the subclient.
func (s *Subclient) Content() []string { return s.content }

// Properties returns the raw last-fetched properties document.
func (s *Subclient) Properties() map[string]interface{} { return s.props }

// Refresh re-fetches the subclient properties from the server.
func (s *Subclient) Refresh(ctx context.Context) error {
	endpoint := fmt.Sprintf(svcSubclient, s.id)

	var raw map[string]interface{}
	if err := s.cc.t.do(ctx, "Subclient.Refresh", http.MethodGet, endpoint, nil, &raw); err != nil {
		return err
	}

	var reply subclientPropertiesResponse
	if err := remarshal(raw, &reply); err != nil || len(reply.SubClientProperties) == 0 {
		return &SDKError{Op: "Subclient.Refresh", Endpoint: endpoint,
			Message: "failed to get subclient properties"}
	}

	prop := reply.SubClientProperties[0]
	s.description = prop.CommonProperties.Description
	s.backupEnabled = prop.CommonProperties.EnableBackup
	s.storagePolicy = prop.CommonProperties.StorageDevice.DataBackupStoragePolicy.StoragePolicyName
	s.props = raw

	s.content = s.content[:0]
	for _, item := range prop.Content {
		if item.Path != "" {
			s.content = append(s.content, item.Path)
		}
	}
	return nil
}

// SetContent replaces the subclient content paths.
func (s *Subclient) SetContent(ctx context.Context, paths []string) error {
	content := make([]interface{}, 0, len(paths))
	for _, path := range paths {
		content = append(content, map[string]string{"path": path})
	}

	request := map[string]interface{}{
		"subClientProperties": map[string]interface{}{
			"content": content,
		},
	}

	endpoint := fmt.Sprintf(svcSubclient, s.id)
	if err := s.cc.t.do(ctx, "Subclient.SetContent", http.MethodPost, endpoint, request, nil); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

type backupActionResponse struct {
	JobIds []int `json:"jobIds"`
}

// Backup starts a backup job for the subclient and returns its Job handle.
//
// Synthetic full backups cannot run on on-demand backupsets; this is
// rejected locally before any request is sent.
func (s *Subclient) Backup(ctx context.Context, opts BackupOptions) (*Job, error) {
	if opts.Level == "" {
		opts.Level = BackupIncremental
	}
	if opts.IncrementalLevel == "" {
		opts.IncrementalLevel = BeforeSynth
	}

	level := strings.ToLower(string(opts.Level))
	if _, ok := validBackupLevels[level]; !ok {
		return nil, &SDKError{Op: "Subclient.Backup",
			Message: fmt.Sprintf("invalid backup level %q", opts.Level)}
	}

	if level == "synthetic_full" && s.backupset.isOnDemand {
		return nil, &SDKError{Op: "Subclient.Backup",
			Message: "synthetic full backup is not supported for on-demand backupsets"}
	}

	backupRequest := level
	if level == "synthetic_full" {
		if opts.RunIncremental {
			backupRequest += "&runIncrementalBackup=True"
			backupRequest += "&incrementalLevel=" + strings.ToLower(string(opts.IncrementalLevel))
		} else {
			backupRequest += "&runIncrementalBackup=False"
		}
	}
	backupRequest += fmt.Sprintf("&collectMetaInfo=%t", opts.CollectMetadata)

	endpoint := fmt.Sprintf(svcSubclientBackup, s.id, backupRequest)

	var reply backupActionResponse
	if err := s.cc.t.do(ctx, "Subclient.Backup", http.MethodPost, endpoint, nil, &reply); err != nil {
		return nil, err
	}

	if len(reply.JobIds) == 0 {
		return nil, &SDKError{Op: "Subclient.Backup", Endpoint: endpoint,
			Message: "failed to start backup job: no job ID in response"}
	}

	return s.cc.Jobs().Get(ctx, reply.JobIds[0])
}

// Browse lists the backed-up content of this subclient.
func (s *Subclient) Browse(ctx context.Context, opts BrowseOptions) ([]string, map[string]BrowseItem, error) {
	id, _ := atoiSafe(s.id)
	opts.subclientID = id
	return s.backupset.Browse(ctx, opts)
}

// Find searches the backed-up content of this subclient.
func (s *Subclient) Find(ctx context.Context, opts BrowseOptions) ([]string, map[string]BrowseItem, error) {
	id, _ := atoiSafe(s.id)
	opts.subclientID = id
	return s.backupset.Find(ctx, opts)
}

// AllVersions lists every stored version of this subclient's items under
// the options' path, keyed by item path.
func (s *Subclient) AllVersions(ctx context.Context, opts BrowseOptions) (map[string][]BrowseItem, error) {
	id, _ := atoiSafe(s.id)
	opts.subclientID = id
	return s.backupset.AllVersions(ctx, opts)
}

// Schedules returns the schedules associated with this subclient.
func (s *Subclient) Schedules() *Schedules {
	return &Schedules{cc: s.cc, scopeParam: "subclientId=" + s.id}
}
