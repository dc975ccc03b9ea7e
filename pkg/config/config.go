// Package config resolves the search engine's environment-variable
// configuration into the dependency-injected struct named by the
// env-var-as-config-struct design note, with pflag-bound overrides layered
// on top for the CLI.
package config

import (
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/ccltopo/graphsearch/pkg/topo"
)

const (
	envGraphFile            = "NCCL_GRAPH_FILE"
	envRings                = "NCCL_RINGS"
	envGraphDumpFile        = "NCCL_GRAPH_DUMP_FILE"
	envCrossNic             = "NCCL_CROSS_NIC"
	envP2PPXNLevel          = "NCCL_P2P_PXN_LEVEL"
	envModelMatchingDisable = "RCCL_MODEL_MATCHING_DISABLE"
)

// FromEnv reads the recognized environment variables once and returns a
// populated topo.Config.
func FromEnv() topo.Config {
	cfg := topo.Config{
		CrossNic:    2,
		P2PPXNLevel: 2,
	}
	if v := os.Getenv(envGraphFile); v != "" {
		cfg.GraphFile = v
	}
	if v := os.Getenv(envRings); v != "" {
		cfg.Rings = v
	}
	if v := os.Getenv(envGraphDumpFile); v != "" {
		cfg.GraphDumpFile = v
	}
	if v := os.Getenv(envCrossNic); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CrossNic = n
		} else {
			klog.Warningf("config: ignoring malformed %s=%q", envCrossNic, v)
		}
	}
	if v := os.Getenv(envP2PPXNLevel); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.P2PPXNLevel = n
		} else {
			klog.Warningf("config: ignoring malformed %s=%q", envP2PPXNLevel, v)
		}
	}
	if v := os.Getenv(envModelMatchingDisable); v != "" {
		b, err := strconv.ParseBool(v)
		cfg.ModelMatchingDisable = err == nil && b
	}
	return cfg
}

// BindFlags registers pflag flags for every Config field on fs, defaulting
// each to the value already present in cfg (typically the result of
// FromEnv), so flags take precedence over the environment only when
// explicitly passed.
func BindFlags(fs *pflag.FlagSet, cfg *topo.Config) {
	fs.StringVar(&cfg.GraphFile, "graph-file", cfg.GraphFile, "path to an XML graph override ("+envGraphFile+")")
	fs.StringVar(&cfg.Rings, "rings", cfg.Rings, "textual ring specification ("+envRings+")")
	fs.StringVar(&cfg.GraphDumpFile, "graph-dump-file", cfg.GraphDumpFile, "path to write computed graphs as XML ("+envGraphDumpFile+")")
	fs.IntVar(&cfg.CrossNic, "cross-nic", cfg.CrossNic, "0 forbid, 1 require, 2 allow if multi-NIC ("+envCrossNic+")")
	fs.IntVar(&cfg.P2PPXNLevel, "p2p-pxn-level", cfg.P2PPXNLevel, "0 off, 1 if-needed, 2 aggressive ("+envP2PPXNLevel+")")
	fs.BoolVar(&cfg.ModelMatchingDisable, "disable-model-matching", cfg.ModelMatchingDisable, "skip pattern matchers ("+envModelMatchingDisable+")")
}
