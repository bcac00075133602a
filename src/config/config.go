// Package config loads the YAML configuration for each of the three
// servers (§6). The loading shape — a typed struct filled with defaults
// before unmarshalling, a missing file tolerated as "use defaults", any
// other parse error fatal — is carried over from the teacher's
// core/config.go readConfigFile, with gcfg's INI format swapped for
// gopkg.in/yaml.v3 since the spec calls for YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GrpcConfig controls the gRPC server options shared by all three
// services: max message sizes. EnableTracing is parsed but not read;
// grpcutil.NewServer installs the otelgrpc stats handler whatever its value.
type GrpcConfig struct {
	MaxRecvMsgSizeBytes int  `yaml:"max_recv_msg_size_bytes"`
	MaxSendMsgSizeBytes int  `yaml:"max_send_msg_size_bytes"`
	EnableTracing       bool `yaml:"enable_tracing"`
}

// DefaultGrpcConfig matches the 400MiB ceiling the teacher's remote
// dial-options used for build actions with large inputs/outputs.
func DefaultGrpcConfig() GrpcConfig {
	return GrpcConfig{MaxRecvMsgSizeBytes: 419430400, MaxSendMsgSizeBytes: 419430400}
}

// InfraConfig controls the admin HTTP listener, Sentry reporting, and
// trace export shared by all three services (§6, §9).
type InfraConfig struct {
	AdminListenAddress string `yaml:"admin_listen_address"`
	SentryDSN          string `yaml:"sentry_dsn"`
	SentryEnvironment  string `yaml:"sentry_environment"`
	// HoneycombAPIKey, if set, sends traces to Honeycomb via
	// honeycombio/honeycomb-opentelemetry-go instead of running a
	// provider with no exporter. HoneycombDataset names the dataset
	// (classic Honeycomb keys only; ignored for E&S environments).
	HoneycombAPIKey  string `yaml:"honeycomb_api_key"`
	HoneycombDataset string `yaml:"honeycomb_dataset"`
}

// DefaultInfraConfig binds the admin endpoints locally and leaves Sentry
// disabled (an empty DSN is the sentry-go convention for a no-op client).
func DefaultInfraConfig() InfraConfig {
	return InfraConfig{AdminListenAddress: "127.0.0.1:9090"}
}

// ReadFile unmarshals the YAML document at path into dst, which must
// already hold its service's defaults. A missing file is not an error —
// the defaults stand as-is; any other read or parse error is fatal to the
// caller, per §6's "Fatal config errors: non-zero" exit contract.
func ReadFile(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}
