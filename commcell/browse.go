package commcell

import (
	"time"
)

// Browse operation types understood by the browse endpoint.
const (
	browseOpBrowse      = "browse"
	browseOpFind        = "find"
	browseOpAllVersions = "all_versions"
	browseOpListMedia   = "list_media"
	browseOpDeleteData  = "delete_data"
)

// browseOpTypes maps operation names onto the numeric opType of the browse
// request. Unknown operations fall back to find.
var browseOpTypes = map[string]int{
	browseOpBrowse:      0,
	browseOpFind:        1,
	browseOpAllVersions: 2,
	browseOpListMedia:   3,
	browseOpDeleteData:  7,
}

// browseModes maps agent names onto the browse mode value, for the agents
// that deviate from the default mode 2.
var browseModes = map[Agent]int{
	AgentVirtualServer: 4,
}

// BrowseFilter narrows a find operation. Field is FileName or FileSize;
// Operator is only used with FileSize (e.g. "GT", "LT").
type BrowseFilter struct {
	Field    string
	Value    string
	Operator string
}

// BrowseOptions control a browse or find operation. The zero value browses
// the root path with the standard defaults (page size 100000, index restore
// enabled, current cycle).
type BrowseOptions struct {
	// Path to browse. Ignored when Paths is set.
	Path string

	// Paths browses several paths in one request.
	Paths []string

	// ShowDeleted includes deleted items in the results.
	ShowDeleted bool

	// FromTime and ToTime bound the backup time range. Zero means
	// unbounded.
	FromTime time.Time
	ToTime   time.Time

	// CopyPrecedence selects the storage policy copy to browse from.
	CopyPrecedence int

	// MediaAgent overrides the media agent used for the browse.
	MediaAgent string

	// PageSize is the maximum result count; 0 uses the default of 100000.
	PageSize int

	// SkipNode skips the first n result nodes, for paging.
	SkipNode int

	// DisableRestoreIndex turns off index restore for the browse.
	DisableRestoreIndex bool

	// VMDiskBrowse browses virtual machine disks.
	VMDiskBrowse bool

	// JobID restricts the browse to the content of one backup job.
	JobID int

	// IncludeAgedData includes aged data in the results.
	IncludeAgedData bool

	// IncludeMetadata includes item metadata in the results.
	IncludeMetadata bool

	// IncludeHidden includes hidden items in the results.
	IncludeHidden bool

	// IncludeRunningJobs includes data from still-running jobs.
	IncludeRunningJobs bool

	// ComputeFolderSize computes folder sizes for filtered browses.
	ComputeFolderSize bool

	// Filters narrow a find operation.
	Filters []BrowseFilter

	operation   string
	subclientID int
}

// applyDefaults fills in the defaults of the original browse option table
// for fields the caller left at their zero value.
func (o *BrowseOptions) applyDefaults() {
	if o.operation == "" {
		o.operation = browseOpBrowse
	}
	if _, ok := browseOpTypes[o.operation]; !ok {
		o.operation = browseOpFind
	}
	if o.Path == "" && len(o.Paths) == 0 {
		o.Path = "\\"
	}
	if o.PageSize == 0 {
		o.PageSize = 100000
	}
}

// paths returns the list of paths of the request.
func (o *BrowseOptions) paths() []string {
	if len(o.Paths) > 0 {
		return o.Paths
	}
	return []string{o.Path}
}

func epoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// browseRequest builds the vendor browse JSON for this backupset from the
// prepared options.
func (b *Backupset) browseRequest(opts BrowseOptions) map[string]interface{} {
	mode := 2
	if m, ok := browseModes[b.agent]; ok {
		mode = m
	}

	paths := make([]map[string]string, 0, len(opts.paths()))
	for _, path := range opts.paths() {
		paths = append(paths, map[string]string{"path": path})
	}

	backupsetID, _ := atoiSafe(b.id)
	clientID, _ := atoiSafe(b.client.id)

	request := map[string]interface{}{
		"opType": browseOpTypes[opts.operation],
		"mode": map[string]interface{}{
			"mode": mode,
		},
		"paths": paths,
		"options": map[string]interface{}{
			"showDeletedFiles": opts.ShowDeleted,
			"restoreIndex":     !opts.DisableRestoreIndex,
			"vsDiskBrowse":     opts.VMDiskBrowse,
			"includeMetadata":  opts.IncludeMetadata,
		},
		"entity": map[string]interface{}{
			"clientName":    b.client.name,
			"clientId":      clientID,
			"applicationId": int(b.agent),
			"instanceId":    b.entity.InstanceID,
			"backupsetId":   backupsetID,
			"subclientId":   opts.subclientID,
		},
		"timeRange": map[string]interface{}{
			"fromTime": epoch(opts.FromTime),
			"toTime":   epoch(opts.ToTime),
		},
		"advOptions": map[string]interface{}{
			"copyPrecedence": opts.CopyPrecedence,
		},
		"ma": map[string]interface{}{
			"clientName": opts.MediaAgent,
		},
		"queries": []interface{}{
			map[string]interface{}{
				"type":    0,
				"queryId": "dataQuery",
				"dataParam": map[string]interface{}{
					"sortParam": map[string]interface{}{
						"ascending": false,
						"sortBy":    []int{0},
					},
					"paging": map[string]interface{}{
						"pageSize":  opts.PageSize,
						"skipNode":  opts.SkipNode,
						"firstNode": 0,
					},
				},
			},
		},
	}

	options := request["options"].(map[string]interface{})
	advOptions := request["advOptions"].(map[string]interface{})

	if len(opts.Filters) > 0 {
		// [('FileName', '*.txt'), ('FileSize', '100', 'GT')]
		whereClause := make([]interface{}, 0, len(opts.Filters))
		for _, filter := range opts.Filters {
			if filter.Field != "FileName" && filter.Field != "FileSize" {
				continue
			}
			criteria := map[string]interface{}{
				"field":  filter.Field,
				"values": []string{filter.Value},
			}
			if filter.Field == "FileSize" {
				criteria["dataOperator"] = filter.Operator
			}
			whereClause = append(whereClause, map[string]interface{}{
				"connector": 0,
				"criteria":  criteria,
			})
		}
		request["queries"].([]interface{})[0].(map[string]interface{})["whereClause"] = whereClause
	}

	if opts.JobID != 0 {
		advOptions["advConfig"] = map[string]interface{}{
			"browseAdvancedConfigBrowseByJob": map[string]interface{}{
				"jobId": opts.JobID,
			},
		}
	}

	if opts.IncludeAgedData {
		options["includeAgedData"] = true
	}
	if opts.IncludeHidden {
		options["includeHidden"] = true
	}
	if opts.IncludeRunningJobs {
		options["includeRunningJobs"] = true
	}
	if opts.ComputeFolderSize {
		options["computeFolderSizeForFilteredBrowse"] = true
	}
	if opts.operation == browseOpListMedia {
		options["doPrediction"] = true
	}

	return request
}

// BrowseItem is the metadata of one item in a browse result.
type BrowseItem struct {
	Name         string
	Path         string
	Size         int64
	Type         string // "File" or "Folder"
	ModifiedTime time.Time
	BackupTime   time.Time
	Deleted      bool
	AdvancedData map[string]interface{}
}

type browseResponse struct {
	BrowseResponses []struct {
		RespType     int `json:"respType"`
		BrowseResult struct {
			DataResultSet []browseResultItem `json:"dataResultSet"`
		} `json:"browseResult"`
		Messages []struct {
			ErrorMessage string `json:"errorMessage"`
			ErrorCode    int    `json:"errorCode"`
		} `json:"messages"`
	} `json:"browseResponses"`
}

type browseResultItem struct {
	DisplayName      string                 `json:"displayName"`
	Path             string                 `json:"path"`
	Size             int64                  `json:"size"`
	ModificationTime flexInt64              `json:"modificationTime"`
	Flags            map[string]interface{} `json:"flags"`
	AdvancedData     map[string]interface{} `json:"advancedData"`
}

// flagSet reports whether a browse result flag is set; the server encodes
// flags as booleans or as the string "1".
func flagSet(flags map[string]interface{}, name string) bool {
	switch v := flags[name].(type) {
	case bool:
		return v
	case string:
		return v == "1"
	default:
		return false
	}
}

// browseResultSet returns the first non-empty result set of a reply. An
// empty reply carrying an error message becomes an *SDKError; an empty
// reply without one is an empty (not failed) browse.
func browseResultSet(reply *browseResponse, op string) ([]browseResultItem, error) {
	for _, response := range reply.BrowseResponses {
		if len(response.BrowseResult.DataResultSet) > 0 {
			return response.BrowseResult.DataResultSet, nil
		}
	}

	if len(reply.BrowseResponses) > 0 && len(reply.BrowseResponses[0].Messages) > 0 {
		msg := reply.BrowseResponses[0].Messages[0]
		if msg.ErrorCode != 0 {
			return nil, &SDKError{Op: op, Code: msg.ErrorCode, Message: msg.ErrorMessage}
		}
	}
	return nil, nil
}

// browseItem converts one result row into a BrowseItem.
func browseItem(result browseResultItem, opts BrowseOptions) BrowseItem {
	path := result.Path
	if path == "" {
		path = opts.Path + "\\" + result.DisplayName
	}

	item := BrowseItem{
		Name:         result.DisplayName,
		Path:         path,
		Size:         result.Size,
		Type:         "Folder",
		AdvancedData: result.AdvancedData,
	}

	if flagSet(result.Flags, "file") {
		item.Type = "File"
	}
	if opts.ShowDeleted {
		item.Deleted = flagSet(result.Flags, "deleted")
	}
	if result.ModificationTime > 0 {
		item.ModifiedTime = time.Unix(int64(result.ModificationTime), 0)
	}
	if bt, ok := result.AdvancedData["backupTime"].(float64); ok && bt > 0 {
		item.BackupTime = time.Unix(int64(bt), 0)
	}
	return item
}

// parseBrowseResponse extracts paths and per-path metadata from a browse
// reply.
func parseBrowseResponse(reply *browseResponse, opts BrowseOptions) ([]string, map[string]BrowseItem, error) {
	resultSet, err := browseResultSet(reply, "Backupset.Browse")
	if err != nil {
		return nil, nil, err
	}

	paths := make([]string, 0, len(resultSet))
	items := make(map[string]BrowseItem, len(resultSet))

	for _, result := range resultSet {
		item := browseItem(result, opts)
		paths = append(paths, item.Path)
		items[item.Path] = item
	}
	return paths, items, nil
}

// parseAllVersionsResponse groups an all-versions reply by item path; each
// row of the result set is one stored version of the item it names.
func parseAllVersionsResponse(reply *browseResponse, opts BrowseOptions) (map[string][]BrowseItem, error) {
	resultSet, err := browseResultSet(reply, "Backupset.AllVersions")
	if err != nil {
		return nil, err
	}

	versions := make(map[string][]BrowseItem, len(resultSet))
	for _, result := range resultSet {
		item := browseItem(result, opts)
		versions[item.Path] = append(versions[item.Path], item)
	}
	return versions, nil
}
