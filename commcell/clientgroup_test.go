package commcell

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientGroupListFixture() map[string]interface{} {
	return map[string]interface{}{
		"groups": []interface{}{
			map[string]interface{}{"Id": 9, "name": "Laptops"},
			map[string]interface{}{"Id": 12, "name": "DMZ Proxies"},
		},
	}
}

func clientGroupDetailFixture(description string, members []string) map[string]interface{} {
	associated := make([]interface{}, 0, len(members))
	for _, name := range members {
		associated = append(associated, map[string]interface{}{"clientName": name})
	}
	return map[string]interface{}{
		"clientGroupDetail": map[string]interface{}{
			"description": description,
			"clientGroup": map[string]interface{}{
				"clientGroupName": "Laptops",
				"clientGroupId":   9,
			},
			"associatedClients": associated,
			"clientGroupActivityControl": map[string]interface{}{
				"activityControlOptions": []interface{}{
					map[string]interface{}{"activityType": activityBackup, "enableActivityType": true},
					map[string]interface{}{"activityType": activityDataAging, "enableActivityType": false},
				},
			},
		},
	}
}

func TestClientGroupsAll(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcClientGroups, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientGroupListFixture())
	})

	all, err := cc.ClientGroups().All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"laptops": "9", "dmz proxies": "12"}, all)
}

func TestClientGroupsGet(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcClientGroups, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientGroupListFixture())
	})
	ts.handle(fmt.Sprintf(svcClientGroup, "9"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientGroupDetailFixture("engineering laptops", []string{"FileServer01"}))
	})

	group, err := cc.ClientGroups().Get(context.Background(), "Laptops")
	require.NoError(t, err)

	assert.Equal(t, "laptops", group.Name())
	assert.Equal(t, "9", group.ID())
	assert.Equal(t, "engineering laptops", group.Description())
	assert.Equal(t, []string{"fileserver01"}, group.AssociatedClients())
	assert.True(t, group.IsBackupEnabled())
	assert.True(t, group.IsRestoreEnabled())
	assert.False(t, group.IsDataAgingEnabled())
}

func TestClientGroupsAddValidatesMembers(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcClientGroups, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			t.Error("no create request expected for invalid members")
		}
		writeJSON(t, w, clientGroupListFixture())
	})
	ts.handle(svcClients, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientListFixture())
	})

	_, err := cc.ClientGroups().Add(context.Background(), "NewGroup", "", []string{"ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no client exists with name "ghost"`)
}

func TestClientGroupsAddRejectsExisting(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcClientGroups, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientGroupListFixture())
	})

	_, err := cc.ClientGroups().Add(context.Background(), "Laptops", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestClientGroupsDelete(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcClientGroups, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientGroupListFixture())
	})

	deleted := false
	ts.handle(fmt.Sprintf(svcClientGroup, "9"), func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleted = true
			writeJSON(t, w, map[string]interface{}{})
			return
		}
		writeJSON(t, w, clientGroupDetailFixture("", nil))
	})

	require.NoError(t, cc.ClientGroups().Delete(context.Background(), "laptops"))
	assert.True(t, deleted)
}

func TestClientGroupDisableBackupEnvelope(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcClientGroups, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientGroupListFixture())
	})

	var update map[string]interface{}
	ts.handle(fmt.Sprintf(svcClientGroup, "9"), func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			update = readJSON(t, r)
			writeJSON(t, w, map[string]interface{}{})
			return
		}
		writeJSON(t, w, clientGroupDetailFixture("", nil))
	})

	group, err := cc.ClientGroups().Get(context.Background(), "laptops")
	require.NoError(t, err)
	require.NoError(t, group.DisableBackup(context.Background()))

	assert.Equal(t, float64(clientGroupOpUpdate), update["clientGroupOperationType"])
	detail := update["clientGroupDetail"].(map[string]interface{})
	opts := detail["clientGroupActivityControl"].(map[string]interface{})["activityControlOptions"].([]interface{})
	opt := opts[0].(map[string]interface{})
	assert.Equal(t, float64(activityBackup), opt["activityType"])
	assert.Equal(t, false, opt["enableActivityType"])
}

func TestClientGroupAddClients(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcClientGroups, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientGroupListFixture())
	})
	ts.handle(svcClients, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientListFixture())
	})

	var update map[string]interface{}
	ts.handle(fmt.Sprintf(svcClientGroup, "9"), func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			update = readJSON(t, r)
			writeJSON(t, w, map[string]interface{}{})
			return
		}
		writeJSON(t, w, clientGroupDetailFixture("", []string{"fileserver01"}))
	})

	group, err := cc.ClientGroups().Get(context.Background(), "laptops")
	require.NoError(t, err)
	require.NoError(t, group.AddClients(context.Background(), []string{"vmproxy01"}, false))

	detail := update["clientGroupDetail"].(map[string]interface{})
	assert.Equal(t, float64(clientsOpAdd), detail["associatedClientsOperationType"])
	associated := detail["associatedClients"].([]interface{})
	require.Len(t, associated, 1)
	assert.Equal(t, "vmproxy01", associated[0].(map[string]interface{})["clientName"])
}

func TestClientGroupRemoveClientsRequiresValidNames(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcClientGroups, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientGroupListFixture())
	})
	ts.handle(svcClients, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientListFixture())
	})
	ts.handle(fmt.Sprintf(svcClientGroup, "9"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientGroupDetailFixture("", nil))
	})

	group, err := cc.ClientGroups().Get(context.Background(), "laptops")
	require.NoError(t, err)

	err = group.RemoveClients(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid clients to update")
}

func TestCreateSmartRule(t *testing.T) {
	rule := CreateSmartRule("OS", "equal to", "Windows")
	inner := rule["rule"].(map[string]interface{})
	assert.Equal(t, 0, inner["filterID"])
	assert.Equal(t, "OS", inner["propID"])
	assert.Equal(t, "Windows", inner["propValue"])

	contains := CreateSmartRule("ClientName", "contains", "sql")
	assert.Equal(t, 12, contains["rule"].(map[string]interface{})["filterID"])
}

func TestMergeSmartRules(t *testing.T) {
	rules := []map[string]interface{}{
		CreateSmartRule("OS", "equal to", "Windows"),
		CreateSmartRule("ClientName", "contains", "sql"),
	}

	merged := MergeSmartRules(rules, "any")
	assert.Equal(t, 1, merged["op"])
	assert.Len(t, merged["rules"], 2)

	all := MergeSmartRules(rules, "all")
	assert.Equal(t, 0, all["op"])
}
