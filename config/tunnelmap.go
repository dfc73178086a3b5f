package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/dep2p/overlay/pkg/types"
)

// TunnelMapping is one statically declared port forward: a local port that,
// when connected to, should tunnel to remotePort on partnerID's host.
type TunnelMapping struct {
	LocalPort  uint16 `yaml:"local_port"`
	PartnerID  string `yaml:"partner_id"`
	RemotePort uint16 `yaml:"remote_port"`
}

// LoadTunnelMap reads a YAML list of TunnelMapping entries from path, in the
// style of a static server-mapping config file rather than the dynamically
// negotiated tunnels set up at runtime.
func LoadTunnelMap(path string) ([]TunnelMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read tunnel map %s: %w", path, err)
	}

	var mappings []TunnelMapping
	if err := yaml.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("config: parse tunnel map %s: %w", path, err)
	}
	return mappings, nil
}

// PartnerPeerID parses the mapping's partner id string into a PeerID.
func (m TunnelMapping) PartnerPeerID() (types.PeerID, error) {
	return types.ParsePeerID(m.PartnerID)
}
