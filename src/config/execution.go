package config

import "time"

// ExecutionConfig is the execution server's config document (§6):
// `{listen_address, cas: <backend>, grpc?, infra?}`. Unlike the storage
// server, the execution server doesn't own blob storage itself. The `cas`
// address is parsed into CASBackendAddress but executionserver does not
// dial it: a worker's reported result is not checked against the CAS.
type ExecutionConfig struct {
	ListenAddress     string        `yaml:"listen_address"`
	CASBackendAddress string        `yaml:"cas"`
	Grpc              GrpcConfig    `yaml:"grpc"`
	Infra             InfraConfig   `yaml:"infra"`
	ExpirationTimeout time.Duration `yaml:"expiration_timeout"`
}

// DefaultExpirationTimeout matches scheduler.DefaultExpirationTimeout;
// duplicated here as a plain time.Duration default rather than importing
// the scheduler package, since config must stay independent of the
// packages it configures.
const DefaultExpirationTimeout = 60 * time.Second

// DefaultExecutionConfig fills in the worker-session expiration timeout
// used when a config file doesn't override it.
func DefaultExecutionConfig() *ExecutionConfig {
	return &ExecutionConfig{
		ListenAddress:     "0.0.0.0:8981",
		Grpc:              DefaultGrpcConfig(),
		Infra:             DefaultInfraConfig(),
		ExpirationTimeout: DefaultExpirationTimeout,
	}
}
