// SPDX-License-Identifier: Apache-2.0

package model

import (
	"gopkg.in/yaml.v3"

	"github.com/pgmakeschemas/pgms/pkg/fsguard"
)

// hostsFile is the plain YAML shape of a hosts manifest: a flat list of
// hosts (unlike the recursive cluster/schemas tree, a hosts file carries
// no include/first/last directives) plus an optional opaque shared blob.
type hostsFile struct {
	Hosts []struct {
		Name     string         `yaml:"name"`
		Type     string         `yaml:"type"`
		ConnInfo *string        `yaml:"conninfo"`
		Params   map[string]any `yaml:"params"`
	} `yaml:"hosts"`
	Shared any `yaml:"shared"`
}

// LoadHosts loads a hosts manifest from path, or returns an empty
// HostsDescr when path is "-" (the pseudo-hosts positional argument).
func LoadHosts(path string, allowList []string) (HostsDescr, error) {
	if path == "-" {
		return HostsDescr{}, nil
	}

	rc, err := fsguard.Open(path, allowList)
	if err != nil {
		return HostsDescr{}, err
	}
	defer rc.Close()

	var hf hostsFile
	if err := yaml.NewDecoder(rc).Decode(&hf); err != nil {
		return HostsDescr{}, ManifestError{Path: path, Reason: err.Error()}
	}

	seen := make(map[string]bool, len(hf.Hosts))
	hosts := make([]Host, 0, len(hf.Hosts))
	for _, h := range hf.Hosts {
		if seen[h.Name] {
			return HostsDescr{}, DuplicateNameError{Kind: "host name", Name: h.Name}
		}
		seen[h.Name] = true
		hosts = append(hosts, Host{Name: h.Name, Type: h.Type, ConnInfo: h.ConnInfo, Params: h.Params})
	}

	return HostsDescr{Hosts: hosts, Shared: hf.Shared}, nil
}
