package commcell

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
)

// ReplicationStatus is the state of a block-level replication pair.
type ReplicationStatus int

// Replication pair states reported by the continuous replication monitor.
const (
	ReplicationBackup      ReplicationStatus = 1
	ReplicationRestoring   ReplicationStatus = 2
	ReplicationResync      ReplicationStatus = 3
	ReplicationReplicating ReplicationStatus = 4
	ReplicationSuspended   ReplicationStatus = 5
	ReplicationStopped     ReplicationStatus = 6
	ReplicationStarting    ReplicationStatus = 10
	ReplicationStopping    ReplicationStatus = 11
	ReplicationResuming    ReplicationStatus = 13
)

// String returns the display name of the status. States the monitor no
// longer reports map to DELETED.
func (s ReplicationStatus) String() string {
	switch s {
	case ReplicationBackup:
		return "BACKUP"
	case ReplicationRestoring:
		return "RESTORING"
	case ReplicationResync:
		return "RESYNC"
	case ReplicationReplicating:
		return "REPLICATING"
	case ReplicationSuspended:
		return "SUSPEND"
	case ReplicationStopped:
		return "STOP"
	case ReplicationStarting:
		return "STARTING"
	case ReplicationStopping:
		return "STOPPING"
	case ReplicationResuming:
		return "RESUMING"
	default:
		return "DELETED"
	}
}

// ReplicationPairs queries the continuous replication monitor for
// block-level replication pairs, keyed by source VM name.
type ReplicationPairs struct {
	cc *Commcell
}

type replicationMonitorResponse struct {
	SiteInfo []map[string]interface{} `json:"siteInfo"`
}

// List returns all replication pairs keyed by their source VM name.
func (rp *ReplicationPairs) List(ctx context.Context) (map[string]*ReplicationPair, error) {
	var reply replicationMonitorResponse
	if err := rp.cc.t.do(ctx, "ReplicationPairs.List", http.MethodGet, svcReplicationMonitor, nil, &reply); err != nil {
		return nil, err
	}

	pairs := make(map[string]*ReplicationPair, len(reply.SiteInfo))
	for _, details := range reply.SiteInfo {
		source, _ := details["sourceName"].(string)
		if source == "" {
			continue
		}
		pairs[source] = &ReplicationPair{cc: rp.cc, vmName: source, details: details}
	}
	return pairs, nil
}

// Get returns the replication pair whose source is the named VM. VM names
// are matched case sensitively, as the monitor reports them.
func (rp *ReplicationPairs) Get(ctx context.Context, vmName string) (*ReplicationPair, error) {
	pairs, err := rp.List(ctx)
	if err != nil {
		return nil, err
	}

	pair, ok := pairs[vmName]
	if !ok {
		return nil, &SDKError{
			Op:         "ReplicationPairs.Get",
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no replication pair exists for VM %q", vmName),
		}
	}
	return pair, nil
}

// ReplicationPair is one block-level replication pair. State changes write
// the full pair document back with the new status, which is how the
// monitor endpoint expects transitions.
type ReplicationPair struct {
	cc      *Commcell
	vmName  string
	details map[string]interface{}
}

// VMName returns the source VM name of the pair.
func (p *ReplicationPair) VMName() string { return p.vmName }

// Details returns the raw pair document from the last monitor fetch.
func (p *ReplicationPair) Details() map[string]interface{} { return p.details }

// Status returns the pair state from the last monitor fetch.
func (p *ReplicationPair) Status() ReplicationStatus {
	if status, ok := p.details["status"].(float64); ok {
		return ReplicationStatus(status)
	}
	return 0
}

// pairID returns the monitor-assigned pair ID as a string.
func (p *ReplicationPair) pairID() string {
	switch id := p.details["id"].(type) {
	case float64:
		return fmt.Sprintf("%.0f", id)
	case string:
		return id
	default:
		return ""
	}
}

// setStatus writes the pair back with the given status. The endpoint
// answers {"errorCode": 0} on success; anything else is a failure.
func (p *ReplicationPair) setStatus(ctx context.Context, op string, status ReplicationStatus) error {
	p.details["status"] = int(status)
	payload := map[string]interface{}{
		"siteInfo": []interface{}{p.details},
	}

	var reply struct {
		ErrorCode    *int   `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := p.cc.t.do(ctx, op, http.MethodPut, svcReplicationMonitor, payload, &reply); err != nil {
		return err
	}
	if reply.ErrorCode == nil {
		return &SDKError{Op: op, Endpoint: svcReplicationMonitor,
			Message: "failed to modify replication pair state: no errorCode in response"}
	}
	if *reply.ErrorCode != 0 {
		return &SDKError{Op: op, Endpoint: svcReplicationMonitor,
			Code: *reply.ErrorCode, Message: "failed to modify replication pair state: " + reply.ErrorMessage}
	}
	return nil
}

// Start starts replication for the pair.
func (p *ReplicationPair) Start(ctx context.Context) error {
	return p.setStatus(ctx, "ReplicationPair.Start", ReplicationReplicating)
}

// Stop stops replication for the pair.
func (p *ReplicationPair) Stop(ctx context.Context) error {
	return p.setStatus(ctx, "ReplicationPair.Stop", ReplicationStopped)
}

// Suspend suspends replication for the pair.
func (p *ReplicationPair) Suspend(ctx context.Context) error {
	return p.setStatus(ctx, "ReplicationPair.Suspend", ReplicationSuspended)
}

// Resync resynchronizes the pair from the source.
func (p *ReplicationPair) Resync(ctx context.Context) error {
	return p.setStatus(ctx, "ReplicationPair.Resync", ReplicationResync)
}

// Resume resumes a suspended pair.
func (p *ReplicationPair) Resume(ctx context.Context) error {
	return p.Start(ctx)
}

// Delete removes the pair from the monitor. The endpoint answers an empty
// document on success.
func (p *ReplicationPair) Delete(ctx context.Context) error {
	endpoint := fmt.Sprintf(svcReplicationMonitorOne, p.pairID())
	return p.cc.t.do(ctx, "ReplicationPair.Delete", http.MethodDelete, endpoint, nil, nil)
}

// Boot operation types of the block operation task.
const (
	bootOpTest      = 1
	bootOpPermanent = 4
)

// blrBootTaskReq is the task request of a boot operation, serialized as
// the XML body of a "qoperation execute" command.
type blrBootTaskReq struct {
	XMLName  xml.Name `xml:"TMMsg_CreateTaskReq"`
	TaskInfo struct {
		Task struct {
			TaskFlags struct {
				Disabled string `xml:"disabled"`
			} `xml:"taskFlags"`
			TaskType      string `xml:"taskType"`
			OwnerID       string `xml:"ownerId"`
			InitiatedFrom string `xml:"initiatedFrom"`
			OwnerName     string `xml:"ownerName"`
		} `xml:"task"`
		SubTasks struct {
			SubTask struct {
				SubTaskType   string `xml:"subTaskType"`
				OperationType string `xml:"operationType"`
			} `xml:"subTask"`
			Options struct {
				BackupOpts struct {
					MediaOpt struct {
						AuxcopyJobOption struct {
							UseMaximumStreams              string `xml:"useMaximumStreams"`
							MaxNumberOfStreams             string `xml:"maxNumberOfStreams"`
							AllCopies                      string `xml:"allCopies"`
							UseScallableResourceManagement string `xml:"useScallableResourceManagement"`
						} `xml:"auxcopyJobOption"`
					} `xml:"mediaOpt"`
				} `xml:"backupOpts"`
				AdminOpts struct {
					BlockOperation struct {
						Operations blrBootOperations `xml:"operations"`
					} `xml:"blockOperation"`
				} `xml:"adminOpts"`
			} `xml:"options"`
			SubTaskOperation string `xml:"subTaskOperation"`
		} `xml:"subTasks"`
	} `xml:"taskInfo"`
}

type blrBootOperations struct {
	VMBootInfo       blrVMBootInfo `xml:"vmBootInfo"`
	AppID            string        `xml:"appId"`
	DstProxyClientID string        `xml:"dstProxyClientId"`
	JobID            string        `xml:"jobId"`
	OpType           int           `xml:"opType"`
}

type blrVMBootInfo struct {
	VMUUID                    string `xml:"vmUUId"`
	VMName                    string `xml:"vmName"`
	NewVMName                 string `xml:"newVmName"`
	BootFromLatestPointInTime string `xml:"bootFromLatestPointInTime"`
	BootFromOldestPointInTime string `xml:"bootFromOldestPointInTime"`
	RPTimeOfDay               string `xml:"rpTimeOfDay"`
	LifeTimeInSec             int    `xml:"lifeTimeInSec"`
	BLRPairID                 string `xml:"blrPairId"`
	Hostname                  string `xml:"hostname"`
	NetworkCards              struct {
		Name  string `xml:"name"`
		Label string `xml:"label"`
	} `xml:"networkCards"`
}

// BootOptions configure a boot operation of a replication pair.
type BootOptions struct {
	// VMName of the booted machine.
	VMName string

	// Lifetime of a test boot VM; defaults to two hours. Ignored for
	// permanent boots.
	Lifetime int

	// ESXHost overrides the target ESX host for the booted VM.
	ESXHost string

	// Network overrides the target VM network.
	Network string
}

func (p *ReplicationPair) bootRequest(opType int, opts BootOptions) blrBootTaskReq {
	sourceGUID, _ := p.details["sourceGuid"].(string)
	sourceName, _ := p.details["sourceName"].(string)
	tailClientID := ""
	switch id := p.details["tailClientId"].(type) {
	case float64:
		tailClientID = fmt.Sprintf("%.0f", id)
	case string:
		tailClientID = id
	}

	var request blrBootTaskReq
	task := &request.TaskInfo.Task
	task.TaskFlags.Disabled = "0"
	task.TaskType = "1"
	task.OwnerID = "1"
	task.InitiatedFrom = "1"
	task.OwnerName = "admin"

	subTasks := &request.TaskInfo.SubTasks
	subTasks.SubTask.SubTaskType = "1"
	subTasks.SubTask.OperationType = "4047"
	subTasks.SubTaskOperation = "1"

	auxcopy := &subTasks.Options.BackupOpts.MediaOpt.AuxcopyJobOption
	auxcopy.UseMaximumStreams = "1"
	auxcopy.MaxNumberOfStreams = "0"
	auxcopy.AllCopies = "1"
	auxcopy.UseScallableResourceManagement = "0"

	bootInfo := blrVMBootInfo{
		VMUUID:                    sourceGUID,
		VMName:                    sourceName,
		NewVMName:                 opts.VMName,
		BootFromLatestPointInTime: "0",
		BootFromOldestPointInTime: "1",
		RPTimeOfDay:               "-1",
		LifeTimeInSec:             opts.Lifetime,
		BLRPairID:                 p.pairID(),
		Hostname:                  opts.ESXHost,
	}
	bootInfo.NetworkCards.Name = opts.Network
	bootInfo.NetworkCards.Label = "Network adapter 1"

	subTasks.Options.AdminOpts.BlockOperation.Operations = blrBootOperations{
		VMBootInfo:       bootInfo,
		AppID:            "206",
		DstProxyClientID: tailClientID,
		JobID:            "0",
		OpType:           opType,
	}
	return request
}

func (p *ReplicationPair) boot(ctx context.Context, op string, opType int, opts BootOptions) (int, error) {
	payload, err := xml.Marshal(p.bootRequest(opType, opts))
	if err != nil {
		return 0, fmt.Errorf("failed to build boot request: %w", err)
	}

	raw, err := p.cc.ExecuteQCommand(ctx, "qoperation execute", string(payload))
	if err != nil {
		return 0, err
	}

	var reply struct {
		JobIds       []int  `json:"jobIds"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil || len(reply.JobIds) == 0 {
		return 0, &SDKError{Op: op,
			Message: "boot was not successful: " + reply.ErrorMessage}
	}
	return reply.JobIds[0], nil
}

// CreateTestBoot boots a temporary VM from the replica and returns the boot
// job ID.
func (p *ReplicationPair) CreateTestBoot(ctx context.Context, opts BootOptions) (int, error) {
	if opts.Lifetime == 0 {
		opts.Lifetime = 7200
	}
	return p.boot(ctx, "ReplicationPair.CreateTestBoot", bootOpTest, opts)
}

// CreatePermanentBoot boots a permanent VM from the replica and returns the
// boot job ID.
func (p *ReplicationPair) CreatePermanentBoot(ctx context.Context, opts BootOptions) (int, error) {
	opts.Lifetime = 7200
	return p.boot(ctx, "ReplicationPair.CreatePermanentBoot", bootOpPermanent, opts)
}
