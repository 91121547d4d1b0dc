package commcell

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func topologyListFixture() map[string]interface{} {
	return map[string]interface{}{
		"firewallTopologies": []interface{}{
			map[string]interface{}{
				"topologyEntity": map[string]interface{}{
					"topologyName": "Branch Gateway",
					"topologyId":   3,
				},
			},
		},
	}
}

func topologyInfoFixture(name string) map[string]interface{} {
	return map[string]interface{}{
		"topologyInfo": map[string]interface{}{
			"topologyType":       TopologyOneWay,
			"description":        "branch office access",
			"extendedProperties": `<App_TopologyExtendedProperties displayType="0" />`,
			"firewallGroups": []interface{}{
				map[string]interface{}{
					"fwGroupType": TopologyGroupServers,
					"isMnemonic":  false,
					"clientGroup": map[string]interface{}{"clientGroupName": "Laptops"},
				},
			},
			"topologyEntity": map[string]interface{}{"topologyName": name},
		},
	}
}

func TestFirewallGroupsJSON(t *testing.T) {
	groups := []TopologyGroup{
		{Type: TopologyGroupServers, Name: "Laptops"},
		{Type: TopologyGroupInfrastructure, Name: "My MediaAgents", Mnemonic: true},
	}

	list, mnemonics, err := firewallGroupsJSON(groups)
	require.NoError(t, err)
	assert.Equal(t, 1, mnemonics)
	require.Len(t, list, 2)

	first := list[0].(map[string]interface{})
	assert.Equal(t, TopologyGroupServers, first["fwGroupType"])
	assert.Equal(t, false, first["isMnemonic"])
	assert.Equal(t, map[string]string{"clientGroupName": "Laptops"}, first["clientGroup"])
}

func TestFirewallGroupsJSONRejectsUnknownMnemonic(t *testing.T) {
	_, _, err := firewallGroupsJSON([]TopologyGroup{
		{Type: TopologyGroupServers, Name: "Laptops", Mnemonic: true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a mnemonic group")
}

func TestFirewallGroupsJSONRejectsMnemonicProxy(t *testing.T) {
	_, _, err := firewallGroupsJSON([]TopologyGroup{
		{Type: TopologyGroupServerGateways, Name: "My MediaAgents", Mnemonic: true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be a mnemonic group")
}

func TestVerifySmartTopology(t *testing.T) {
	assert.NoError(t, verifySmartTopology(true, 1))
	assert.NoError(t, verifySmartTopology(false, 0))

	err := verifySmartTopology(true, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be mnemonic")

	err = verifySmartTopology(true, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than one mnemonic group")

	err = verifySmartTopology(false, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "require a smart topology")
}

func TestTopologyOptionsDefaults(t *testing.T) {
	var opts TopologyOptions
	opts.applyDefaults()

	assert.Equal(t, TopologyOneWay, opts.Type)
	assert.Equal(t, 1, opts.NumberOfStreams)
	assert.Equal(t, 2, opts.ConnectionProtocol)

	blob := opts.extendedProperties()
	assert.Contains(t, blob, `numberOfStreams="1"`)
	assert.Contains(t, blob, `connectionProtocol="2"`)
}

func TestNetworkTopologiesAll(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcNetworkTopologies, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, topologyListFixture())
	})

	all, err := cc.NetworkTopologies().All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"branch gateway": "3"}, all)
}

func TestNetworkTopologiesGet(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcNetworkTopologies, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, topologyListFixture())
	})
	ts.handle(fmt.Sprintf(svcNetworkTopology, "3"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, topologyInfoFixture("Branch Gateway"))
	})

	topology, err := cc.NetworkTopologies().Get(context.Background(), "branch gateway")
	require.NoError(t, err)

	assert.Equal(t, "branch gateway", topology.Name())
	assert.Equal(t, "3", topology.ID())
	assert.Equal(t, TopologyOneWay, topology.Type())
	assert.Equal(t, "branch office access", topology.Description())
	assert.Len(t, topology.FirewallGroups(), 1)
}

func TestNetworkTopologiesAdd(t *testing.T) {
	ts, cc := newTestCommcell(t)

	created := false
	var request map[string]interface{}
	ts.handle(svcNetworkTopologies, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			created = true
			request = readJSON(t, r)
			writeJSON(t, w, map[string]interface{}{
				"topology": map[string]interface{}{"topologyId": 3},
			})
			return
		}
		if created {
			writeJSON(t, w, topologyListFixture())
			return
		}
		writeJSON(t, w, map[string]interface{}{"firewallTopologies": []interface{}{}})
	})
	ts.handle(fmt.Sprintf(svcNetworkTopology, "3"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, topologyInfoFixture("Branch Gateway"))
	})

	groups := []TopologyGroup{
		{Type: TopologyGroupServers, Name: "Laptops"},
		{Type: TopologyGroupInfrastructure, Name: "MediaAgents"},
		{Type: TopologyGroupServerGateways, Name: "Gateways"},
	}

	topology, err := cc.NetworkTopologies().Add(context.Background(), "Branch Gateway", groups, TopologyOptions{})
	require.NoError(t, err)
	assert.Equal(t, "branch gateway", topology.Name())

	envelope := request["firewallTopology"].(map[string]interface{})
	assert.Equal(t, float64(TopologyOneWay), envelope["topologyType"])
	assert.Equal(t, false, envelope["isSmartTopology"])
	assert.Len(t, envelope["firewallGroups"], 3)
	entity := envelope["topologyEntity"].(map[string]interface{})
	assert.Equal(t, "Branch Gateway", entity["topologyName"])
	assert.Contains(t, envelope["extendedProperties"], "App_TopologyExtendedProperties")
}

func TestNetworkTopologiesAddNoTopologyInReply(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcNetworkTopologies, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(t, w, map[string]interface{}{})
			return
		}
		writeJSON(t, w, map[string]interface{}{"firewallTopologies": []interface{}{}})
	})

	_, err := cc.NetworkTopologies().Add(context.Background(), "Broken", nil, TopologyOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create network topology")
}

func TestNetworkTopologiesDelete(t *testing.T) {
	ts, cc := newTestCommcell(t)

	deleted := false
	ts.handle(svcNetworkTopologies, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, topologyListFixture())
	})
	ts.handle(fmt.Sprintf(svcNetworkTopology, "3"), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		deleted = true
		writeJSON(t, w, map[string]interface{}{})
	})

	require.NoError(t, cc.NetworkTopologies().Delete(context.Background(), "Branch Gateway"))
	assert.True(t, deleted)
}

func TestNetworkTopologyPushNetworkConfig(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(svcNetworkTopologies, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, topologyListFixture())
	})
	ts.handle(fmt.Sprintf(svcNetworkTopology, "3"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, topologyInfoFixture("Branch Gateway"))
	})

	pushed := false
	ts.handle(fmt.Sprintf(svcPushTopology, "3"), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		pushed = true
		writeJSON(t, w, map[string]interface{}{})
	})

	topology, err := cc.NetworkTopologies().Get(context.Background(), "branch gateway")
	require.NoError(t, err)
	require.NoError(t, topology.PushNetworkConfig(context.Background()))
	assert.True(t, pushed)
}
