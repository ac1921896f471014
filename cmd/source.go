// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pgmakeschemas/pgms/cmd/flags"
	"github.com/pgmakeschemas/pgms/pkg/comment"
	"github.com/pgmakeschemas/pgms/pkg/model"
	"github.com/pgmakeschemas/pgms/pkg/receivers"
	"github.com/spf13/cobra"
)

// loadedSource is the common result of reading the positional arguments
// shared by init, install, and upgrade: hosts, source_code, and zero or
// more settings_source_code trees.
type loadedSource struct {
	Cluster *model.ClusterDescr
	Hosts   model.HostsDescr
}

// loadSource resolves allowList/includeRefMap from -i/--include, loads
// hostsPath (or synthesizes conninfo-less pseudo-hosts for "-"),
// loads the cluster at sourcePath, and folds in any settings trees,
// verifying each against the cluster's application and target revision.
func loadSource(cmd *cobra.Command, hostsPath, sourcePath string, settingsPaths []string) (*loadedSource, error) {
	extraAllow, refMap := flags.Includes(cmd)

	absSource, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", sourcePath, err)
	}
	allowList := []string{absSource}
	for _, entry := range extraAllow {
		abs, err := filepath.Abs(entry)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", entry, err)
		}
		allowList = append(allowList, abs)
	}
	for name, path := range refMap {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", path, err)
		}
		refMap[name] = abs
	}

	absHosts := ""
	if hostsPath != "-" {
		absHosts, err = filepath.Abs(hostsPath)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", hostsPath, err)
		}
		allowList = append(allowList, filepath.Dir(absHosts))
	}

	absSettings := make([]string, len(settingsPaths))
	for i, sp := range settingsPaths {
		absSettings[i], err = filepath.Abs(sp)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", sp, err)
		}
		allowList = append(allowList, absSettings[i])
	}

	cluster, err := model.LoadCluster(filepath.Join(absSource, "cluster.yaml"), allowList, refMap)
	if err != nil {
		return nil, err
	}

	var hosts model.HostsDescr
	if hostsPath == "-" {
		hosts = model.PseudoHosts(cluster)
	} else {
		hosts, err = model.LoadHosts(absHosts, allowList)
		if err != nil {
			return nil, err
		}
	}

	targetRevision := ""
	if rev, err := cluster.Revision.Get(); err == nil {
		targetRevision = rev
	}

	for _, sp := range absSettings {
		settingsCluster, err := model.LoadCluster(filepath.Join(sp, "cluster.yaml"), allowList, refMap)
		if err != nil {
			return nil, err
		}
		if err := settingsCluster.CheckSettingsCompatibility(cluster.Application, targetRevision); err != nil {
			return nil, err
		}
		cluster.SettingsList = append(cluster.SettingsList, settingsCluster.SettingsList...)
	}

	return &loadedSource{Cluster: cluster, Hosts: hosts}, nil
}

// resolveComment runs the external comment script when --comment was
// passed or PG_MAKE_SCHEMAS_COMMENT is set, against sourcePath's
// comment.sh unless the environment variable overrides the path.
func resolveComment(ctx context.Context, cmd *cobra.Command, sourcePath string) (*string, error) {
	scriptPath := os.Getenv(comment.EnvVar)
	requested := flags.CommentRequested(cmd)
	if scriptPath != "" {
		requested = true
	} else {
		scriptPath = filepath.Join(sourcePath, comment.DefaultScriptName)
	}
	if !requested {
		return nil, nil
	}

	text, err := comment.ScriptSource(scriptPath)(ctx)
	if err != nil {
		return nil, err
	}
	return &text, nil
}

func connector() receivers.Connector {
	return receivers.OpenPQConnection
}
