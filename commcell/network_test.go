package commcell

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientNetworkFixture(enabled bool, tunnelPort int) map[string]interface{} {
	return map[string]interface{}{
		"clientProperties": []interface{}{
			map[string]interface{}{
				"clientProps": map[string]interface{}{
					"firewallConfiguration": map[string]interface{}{
						"configureFirewallSettings": enabled,
						"firewallOptions": map[string]interface{}{
							"isRoamingClient":      false,
							"tunnelconnectionPort": tunnelPort,
							"foreceSSL":            true,
							"keepAliveSeconds":     300,
						},
					},
				},
			},
		},
	}
}

func TestNetworkSettingsClient(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(fmt.Sprintf(svcClient, "2"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clientNetworkFixture(true, 8403))
	})

	network := testClient(cc).Network()
	settings, err := network.Settings(context.Background())
	require.NoError(t, err)

	assert.True(t, settings.ConfigureFirewallSettings)
	assert.Equal(t, 8403, settings.TunnelPort)
	assert.True(t, settings.ForceSSL)
	assert.Equal(t, 300, settings.KeepAliveSeconds)
}

func TestNetworkSettingsWithoutConfiguration(t *testing.T) {
	ts, cc := newTestCommcell(t)
	ts.handle(fmt.Sprintf(svcClient, "2"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"clientProperties": []interface{}{
				map[string]interface{}{"clientProps": map[string]interface{}{}},
			},
		})
	})

	settings, err := testClient(cc).Network().Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NetworkSettings{}, settings)
}

func TestNetworkSetTunnelPort(t *testing.T) {
	ts, cc := newTestCommcell(t)

	var update map[string]interface{}
	ts.handle(fmt.Sprintf(svcClient, "2"), func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			update = readJSON(t, r)
			writeJSON(t, w, map[string]interface{}{})
			return
		}
		writeJSON(t, w, clientNetworkFixture(true, 8403))
	})

	require.NoError(t, testClient(cc).Network().SetTunnelPort(context.Background(), 8500))

	entity := update["association"].(map[string]interface{})["entity"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "fileserver01", entity["clientName"])

	config := update["clientProperties"].(map[string]interface{})["firewallConfiguration"].(map[string]interface{})
	assert.Equal(t, true, config["configureFirewallSettings"])

	options := config["firewallOptions"].(map[string]interface{})
	assert.Equal(t, float64(8500), options["tunnelconnectionPort"])
	assert.Equal(t, extendedFirewallProperties, options["extendedProperties"])
	assert.Equal(t, true, options["foreceSSL"])
}

func TestNetworkDisableSendsOffSwitchOnly(t *testing.T) {
	ts, cc := newTestCommcell(t)

	var update map[string]interface{}
	ts.handle(fmt.Sprintf(svcClient, "2"), func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			update = readJSON(t, r)
			writeJSON(t, w, map[string]interface{}{})
			return
		}
		writeJSON(t, w, clientNetworkFixture(true, 8403))
	})

	require.NoError(t, testClient(cc).Network().DisableNetworkConfig(context.Background()))

	config := update["clientProperties"].(map[string]interface{})["firewallConfiguration"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"configureFirewallSettings": false}, config)
}

func TestNetworkClientGroupPushEnvelope(t *testing.T) {
	ts, cc := newTestCommcell(t)

	var update map[string]interface{}
	ts.handle(fmt.Sprintf(svcClientGroup, "9"), func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			update = readJSON(t, r)
			writeJSON(t, w, map[string]interface{}{})
			return
		}
		writeJSON(t, w, map[string]interface{}{
			"clientGroupDetail": map[string]interface{}{
				"firewallConfiguration": map[string]interface{}{
					"configureFirewallSettings": true,
				},
			},
		})
	})

	network := &Network{cc: cc, entityName: "dmz proxies", entityID: "9", entityKind: networkEntityClientGroup}
	require.NoError(t, network.SetForceSSL(context.Background(), true))

	assert.Equal(t, float64(clientGroupOpUpdate), update["clientGroupOperationType"])

	detail := update["clientGroupDetail"].(map[string]interface{})
	group := detail["clientGroup"].(map[string]interface{})
	assert.Equal(t, "dmz proxies", group["clientGroupName"])

	config := detail["firewallConfiguration"].(map[string]interface{})
	options := config["firewallOptions"].(map[string]interface{})
	assert.Equal(t, true, options["foreceSSL"])
}
