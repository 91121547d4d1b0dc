package commcell

import (
	"context"
	"fmt"
	"net/http"
)

// Entity kinds a Network wrapper can be bound to.
const (
	networkEntityClient      = "client"
	networkEntityClientGroup = "clientGroup"
)

// extendedFirewallProperties is the fixed attribute blob the server expects
// alongside pushed firewall options.
const extendedFirewallProperties = `<App_FirewallExtendedProperties configureAutomatically="0" defaultOutgoingProtocol="0"/>`

// NetworkSettings are the firewall options of a client or client group.
// Fields not modeled here (port ranges, proxy entities, outgoing routes,
// TPPM) are carried through Raw so a push does not drop them.
type NetworkSettings struct {
	// ConfigureFirewallSettings turns the network configuration on or off.
	// When false, a push clears the configuration.
	ConfigureFirewallSettings bool

	// RoamingClient marks the entity as a roaming client.
	RoamingClient bool

	// TunnelPort is the tunnel connection port, 8403 by default on new
	// installs.
	TunnelPort int

	// ForceSSL forces encrypted tunnel connections.
	ForceSSL bool

	// TunnelInitSeconds is the tunnel init interval.
	TunnelInitSeconds int

	// Lockdown restricts the entity to tunnel connections only.
	Lockdown bool

	// BindOpenPortsOnly binds services to open ports only.
	BindOpenPortsOnly bool

	// IsDMZ marks the entity as a perimeter (DMZ) gateway.
	IsDMZ bool

	// KeepAliveSeconds is the tunnel keep-alive interval.
	KeepAliveSeconds int

	// PortRange, ProxyEntities, OutgoingRoutes, RestrictionTo and TPPM are
	// the remaining firewall configuration nodes, carried verbatim.
	PortRange      []interface{}
	ProxyEntities  []interface{}
	OutgoingRoutes []interface{}
	RestrictionTo  []interface{}
	TPPM           []interface{}
}

// Network reads and updates the firewall configuration of one client or
// client group. Obtain one from Client.Network or ClientGroup.Network.
type Network struct {
	cc         *Commcell
	entityName string
	entityID   string
	entityKind string

	settings NetworkSettings
	fetched  bool
}

type firewallConfiguration struct {
	ConfigureFirewallSettings bool          `json:"configureFirewallSettings"`
	IsTrivialConfig           bool          `json:"isTrivialConfig"`
	PortRange                 []interface{} `json:"portRange,omitempty"`
	ProxyEntities             []interface{} `json:"proxyEntities,omitempty"`
	FirewallOutGoingRoutes    []interface{} `json:"firewallOutGoingRoutes,omitempty"`
	RestrictionTo             []interface{} `json:"restrictionTo,omitempty"`
	FirewallOptions           struct {
		IsRoamingClient      bool          `json:"isRoamingClient"`
		TunnelConnectionPort int           `json:"tunnelconnectionPort"`
		ForceSSL             bool          `json:"foreceSSL"`
		TunnelInitSeconds    int           `json:"tunnelInitSeconds"`
		Lockdown             bool          `json:"lockdown"`
		BindOpenPortsOnly    bool          `json:"bindOpenPortsOnly"`
		IsDMZ                bool          `json:"isDMZ"`
		KeepAliveSeconds     int           `json:"keepAliveSeconds"`
		TPPM                 []interface{} `json:"tppm,omitempty"`
	} `json:"firewallOptions"`
}

type clientNetworkResponse struct {
	ClientProperties []struct {
		ClientProps struct {
			FirewallConfiguration *firewallConfiguration `json:"firewallConfiguration"`
		} `json:"clientProps"`
	} `json:"clientProperties"`
}

type groupNetworkResponse struct {
	ClientGroupDetail struct {
		FirewallConfiguration *firewallConfiguration `json:"firewallConfiguration"`
	} `json:"clientGroupDetail"`
}

func (n *Network) endpoint() string {
	if n.entityKind == networkEntityClientGroup {
		return fmt.Sprintf(svcClientGroup, n.entityID)
	}
	return fmt.Sprintf(svcClient, n.entityID)
}

// Refresh fetches the firewall configuration from the entity properties.
// Entities with no configuration yield the zero settings.
func (n *Network) Refresh(ctx context.Context) error {
	var raw map[string]interface{}
	if err := n.cc.t.do(ctx, "Network.Refresh", http.MethodGet, n.endpoint(), nil, &raw); err != nil {
		return err
	}

	var config *firewallConfiguration
	if n.entityKind == networkEntityClientGroup {
		var reply groupNetworkResponse
		if err := remarshal(raw, &reply); err != nil {
			return err
		}
		config = reply.ClientGroupDetail.FirewallConfiguration
	} else {
		var reply clientNetworkResponse
		if err := remarshal(raw, &reply); err != nil {
			return err
		}
		if len(reply.ClientProperties) > 0 {
			config = reply.ClientProperties[0].ClientProps.FirewallConfiguration
		}
	}

	n.settings = NetworkSettings{}
	if config != nil {
		n.settings = NetworkSettings{
			ConfigureFirewallSettings: config.ConfigureFirewallSettings,
			RoamingClient:             config.FirewallOptions.IsRoamingClient,
			TunnelPort:                config.FirewallOptions.TunnelConnectionPort,
			ForceSSL:                  config.FirewallOptions.ForceSSL,
			TunnelInitSeconds:         config.FirewallOptions.TunnelInitSeconds,
			Lockdown:                  config.FirewallOptions.Lockdown,
			BindOpenPortsOnly:         config.FirewallOptions.BindOpenPortsOnly,
			IsDMZ:                     config.FirewallOptions.IsDMZ,
			KeepAliveSeconds:          config.FirewallOptions.KeepAliveSeconds,
			PortRange:                 config.PortRange,
			ProxyEntities:             config.ProxyEntities,
			OutgoingRoutes:            config.FirewallOutGoingRoutes,
			RestrictionTo:             config.RestrictionTo,
			TPPM:                      config.FirewallOptions.TPPM,
		}
	}
	n.fetched = true
	return nil
}

func (n *Network) ensure(ctx context.Context) error {
	if n.fetched {
		return nil
	}
	return n.Refresh(ctx)
}

// Settings returns the current firewall settings, fetching them on first use.
func (n *Network) Settings(ctx context.Context) (NetworkSettings, error) {
	if err := n.ensure(ctx); err != nil {
		return NetworkSettings{}, err
	}
	return n.settings, nil
}

// firewallConfigJSON builds the firewallConfiguration node for a push.
// When the settings are disabled only the off switch is sent so the server
// clears the rest.
func (n *Network) firewallConfigJSON() map[string]interface{} {
	if !n.settings.ConfigureFirewallSettings {
		return map[string]interface{}{
			"configureFirewallSettings": false,
		}
	}

	return map[string]interface{}{
		"configureFirewallSettings": true,
		"isTrivialConfig":           false,
		"portRange":                 n.settings.PortRange,
		"proxyEntities":             n.settings.ProxyEntities,
		"firewallOutGoingRoutes":    n.settings.OutgoingRoutes,
		"restrictionTo":             n.settings.RestrictionTo,
		"firewallOptions": map[string]interface{}{
			"isRoamingClient":      n.settings.RoamingClient,
			"extendedProperties":   extendedFirewallProperties,
			"tunnelconnectionPort": n.settings.TunnelPort,
			"foreceSSL":            n.settings.ForceSSL,
			"tunnelInitSeconds":    n.settings.TunnelInitSeconds,
			"lockdown":             n.settings.Lockdown,
			"bindOpenPortsOnly":    n.settings.BindOpenPortsOnly,
			"isDMZ":                n.settings.IsDMZ,
			"keepAliveSeconds":     n.settings.KeepAliveSeconds,
			"tppm":                 n.settings.TPPM,
		},
	}
}

// push writes the current settings back to the entity.
func (n *Network) push(ctx context.Context) error {
	var request map[string]interface{}

	if n.entityKind == networkEntityClientGroup {
		request = map[string]interface{}{
			"clientGroupOperationType": clientGroupOpUpdate,
			"clientGroupDetail": map[string]interface{}{
				"clientGroup": map[string]interface{}{
					"clientGroupName": n.entityName,
				},
				"firewallConfiguration": n.firewallConfigJSON(),
			},
		}
	} else {
		request = map[string]interface{}{
			"association": map[string]interface{}{
				"entity": []interface{}{
					map[string]interface{}{"clientName": n.entityName},
				},
			},
			"clientProperties": map[string]interface{}{
				"firewallConfiguration": n.firewallConfigJSON(),
			},
		}
	}

	if err := n.cc.t.do(ctx, "Network.Update", http.MethodPost, n.endpoint(), request, nil); err != nil {
		n.fetched = false
		return err
	}
	return n.Refresh(ctx)
}

// Update applies the given settings to the entity.
func (n *Network) Update(ctx context.Context, settings NetworkSettings) error {
	if err := n.ensure(ctx); err != nil {
		return err
	}
	n.settings = settings
	return n.push(ctx)
}

// EnableNetworkConfig turns the firewall settings on without changing the
// rest of the configuration.
func (n *Network) EnableNetworkConfig(ctx context.Context) error {
	return n.set(ctx, func(s *NetworkSettings) { s.ConfigureFirewallSettings = true })
}

// DisableNetworkConfig turns the firewall settings off; the server clears
// the configuration.
func (n *Network) DisableNetworkConfig(ctx context.Context) error {
	return n.set(ctx, func(s *NetworkSettings) { s.ConfigureFirewallSettings = false })
}

// SetTunnelPort changes the tunnel connection port.
func (n *Network) SetTunnelPort(ctx context.Context, port int) error {
	return n.set(ctx, func(s *NetworkSettings) {
		s.ConfigureFirewallSettings = true
		s.TunnelPort = port
	})
}

// SetForceSSL forces or relaxes encrypted tunnel connections.
func (n *Network) SetForceSSL(ctx context.Context, force bool) error {
	return n.set(ctx, func(s *NetworkSettings) {
		s.ConfigureFirewallSettings = true
		s.ForceSSL = force
	})
}

// SetLockdown restricts the entity to tunnel connections only.
func (n *Network) SetLockdown(ctx context.Context, lockdown bool) error {
	return n.set(ctx, func(s *NetworkSettings) {
		s.ConfigureFirewallSettings = true
		s.Lockdown = lockdown
	})
}

// SetDMZ marks or unmarks the entity as a perimeter gateway.
func (n *Network) SetDMZ(ctx context.Context, dmz bool) error {
	return n.set(ctx, func(s *NetworkSettings) {
		s.ConfigureFirewallSettings = true
		s.IsDMZ = dmz
	})
}

// SetKeepAliveSeconds changes the tunnel keep-alive interval.
func (n *Network) SetKeepAliveSeconds(ctx context.Context, seconds int) error {
	return n.set(ctx, func(s *NetworkSettings) {
		s.ConfigureFirewallSettings = true
		s.KeepAliveSeconds = seconds
	})
}

// SetOutgoingRoutes replaces the outgoing network routes.
func (n *Network) SetOutgoingRoutes(ctx context.Context, routes []interface{}) error {
	return n.set(ctx, func(s *NetworkSettings) {
		s.ConfigureFirewallSettings = true
		s.OutgoingRoutes = routes
	})
}

func (n *Network) set(ctx context.Context, mutate func(*NetworkSettings)) error {
	if err := n.ensure(ctx); err != nil {
		return err
	}
	mutate(&n.settings)
	return n.push(ctx)
}
