package commcell

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replicationMonitorFixture() map[string]interface{} {
	return map[string]interface{}{
		"siteInfo": []interface{}{
			map[string]interface{}{
				"id":           77,
				"sourceName":   "appvm01",
				"sourceGuid":   "503c-aaaa-bbbb",
				"tailClientId": 8,
				"status":       int(ReplicationReplicating),
			},
			map[string]interface{}{"id": 78, "status": 6},
		},
	}
}

func testReplicationPair() *ReplicationPair {
	return &ReplicationPair{
		vmName: "appvm01",
		details: map[string]interface{}{
			"id":           float64(77),
			"sourceName":   "appvm01",
			"sourceGuid":   "503c-aaaa-bbbb",
			"tailClientId": float64(8),
			"status":       float64(ReplicationReplicating),
		},
	}
}

func TestReplicationStatusString(t *testing.T) {
	assert.Equal(t, "BACKUP", ReplicationBackup.String())
	assert.Equal(t, "REPLICATING", ReplicationReplicating.String())
	assert.Equal(t, "SUSPEND", ReplicationSuspended.String())
	assert.Equal(t, "STOP", ReplicationStopped.String())
	assert.Equal(t, "RESUMING", ReplicationResuming.String())
	assert.Equal(t, "DELETED", ReplicationStatus(99).String())
}

func TestReplicationPairsList(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcReplicationMonitor, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, replicationMonitorFixture())
	})

	pairs, err := cc.ReplicationPairs().List(context.Background())
	require.NoError(t, err)

	require.Len(t, pairs, 1, "entries without a source name must be skipped")
	pair := pairs["appvm01"]
	require.NotNil(t, pair)
	assert.Equal(t, "appvm01", pair.VMName())
	assert.Equal(t, ReplicationReplicating, pair.Status())
}

func TestReplicationPairsGetNotFound(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcReplicationMonitor, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, replicationMonitorFixture())
	})

	_, err := cc.ReplicationPairs().Get(context.Background(), "ghostvm")
	require.Error(t, err)

	var sdkErr *SDKError
	require.ErrorAs(t, err, &sdkErr)
	assert.True(t, sdkErr.IsNotFound())
}

func TestReplicationPairStop(t *testing.T) {
	ts, cc := newTestCommcell(t)

	var update map[string]interface{}
	ts.handle(svcReplicationMonitor, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			update = readJSON(t, r)
			writeJSON(t, w, map[string]interface{}{"errorCode": 0})
			return
		}
		writeJSON(t, w, replicationMonitorFixture())
	})

	pair, err := cc.ReplicationPairs().Get(context.Background(), "appvm01")
	require.NoError(t, err)
	require.NoError(t, pair.Stop(context.Background()))

	siteInfo := update["siteInfo"].([]interface{})
	require.Len(t, siteInfo, 1)
	entry := siteInfo[0].(map[string]interface{})
	assert.Equal(t, float64(ReplicationStopped), entry["status"])
	assert.Equal(t, "appvm01", entry["sourceName"])
}

func TestReplicationPairSetStatusError(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcReplicationMonitor, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			writeJSON(t, w, map[string]interface{}{
				"errorCode":    587,
				"errorMessage": "pair is busy",
			})
			return
		}
		writeJSON(t, w, replicationMonitorFixture())
	})

	pair, err := cc.ReplicationPairs().Get(context.Background(), "appvm01")
	require.NoError(t, err)

	err = pair.Suspend(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to modify replication pair state: pair is busy")
}

func TestReplicationPairSetStatusRequiresErrorCode(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcReplicationMonitor, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			// A 200 without errorCode does not confirm the transition.
			writeJSON(t, w, map[string]interface{}{})
			return
		}
		writeJSON(t, w, replicationMonitorFixture())
	})

	pair, err := cc.ReplicationPairs().Get(context.Background(), "appvm01")
	require.NoError(t, err)

	err = pair.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no errorCode in response")
}

func TestReplicationPairDelete(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcReplicationMonitor, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, replicationMonitorFixture())
	})

	deleted := false
	ts.handle(fmt.Sprintf(svcReplicationMonitorOne, "77"), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		deleted = true
		writeJSON(t, w, map[string]interface{}{})
	})

	pair, err := cc.ReplicationPairs().Get(context.Background(), "appvm01")
	require.NoError(t, err)
	require.NoError(t, pair.Delete(context.Background()))
	assert.True(t, deleted)
}

func TestBootRequest(t *testing.T) {
	pair := testReplicationPair()

	request := pair.bootRequest(bootOpTest, BootOptions{
		VMName:   "appvm01_test",
		Lifetime: 7200,
		ESXHost:  "esx03.example.com",
		Network:  "VM Network",
	})

	assert.Equal(t, "1", request.TaskInfo.Task.TaskType)
	assert.Equal(t, "admin", request.TaskInfo.Task.OwnerName)
	assert.Equal(t, "4047", request.TaskInfo.SubTasks.SubTask.OperationType)

	operations := request.TaskInfo.SubTasks.Options.AdminOpts.BlockOperation.Operations
	assert.Equal(t, bootOpTest, operations.OpType)
	assert.Equal(t, "206", operations.AppID)
	assert.Equal(t, "8", operations.DstProxyClientID)

	bootInfo := operations.VMBootInfo
	assert.Equal(t, "503c-aaaa-bbbb", bootInfo.VMUUID)
	assert.Equal(t, "appvm01", bootInfo.VMName)
	assert.Equal(t, "appvm01_test", bootInfo.NewVMName)
	assert.Equal(t, "77", bootInfo.BLRPairID)
	assert.Equal(t, 7200, bootInfo.LifeTimeInSec)
	assert.Equal(t, "esx03.example.com", bootInfo.Hostname)
	assert.Equal(t, "VM Network", bootInfo.NetworkCards.Name)
	assert.Equal(t, "Network adapter 1", bootInfo.NetworkCards.Label)
}

func TestCreateTestBoot(t *testing.T) {
	ts, cc := newTestCommcell(t)

	var command, inputXML string
	ts.handle(svcExecuteQCommand, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		command = r.PostFormValue("command")
		inputXML = r.PostFormValue("inputRequestXML")
		writeJSON(t, w, map[string]interface{}{"jobIds": []interface{}{601}})
	})

	pair := testReplicationPair()
	pair.cc = cc

	jobID, err := pair.CreateTestBoot(context.Background(), BootOptions{VMName: "appvm01_test"})
	require.NoError(t, err)
	assert.Equal(t, 601, jobID)

	assert.Equal(t, "qoperation execute", command)
	assert.Contains(t, inputXML, "TMMsg_CreateTaskReq")
	assert.Contains(t, inputXML, "<lifeTimeInSec>7200</lifeTimeInSec>", "test boots default to a two hour lifetime")
	assert.Contains(t, inputXML, "<opType>1</opType>")
}

func TestCreatePermanentBoot(t *testing.T) {
	ts, cc := newTestCommcell(t)

	var inputXML string
	ts.handle(svcExecuteQCommand, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		inputXML = r.PostFormValue("inputRequestXML")
		writeJSON(t, w, map[string]interface{}{"jobIds": []interface{}{602}})
	})

	pair := testReplicationPair()
	pair.cc = cc

	jobID, err := pair.CreatePermanentBoot(context.Background(), BootOptions{VMName: "appvm01_perm"})
	require.NoError(t, err)
	assert.Equal(t, 602, jobID)
	assert.Contains(t, inputXML, "<opType>4</opType>")
}

func TestCreateBootReportsFailure(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcExecuteQCommand, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{"errorMessage": "no recovery point available"})
	})

	pair := testReplicationPair()
	pair.cc = cc

	_, err := pair.CreateTestBoot(context.Background(), BootOptions{VMName: "appvm01_test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boot was not successful: no recovery point available")
}
