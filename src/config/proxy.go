package config

// ProxyConfig is the proxy server's config document (§6): `{listen_addresses:
// [{addr, auth_scheme, allowed_service_names: [fqn...]}], jwk_set_path,
// auth_token_mapping?{s3_bucket, s3_region, s3_path, refresh_frequency_s?},
// backends: {name → {address, connections?}}, per_instance_backends?:
// {name → {cas, action_cache, execution?}}, default_backends, infra?,
// grpc?, backend_timeouts?: {get_action_result_ms?}}`.
type ProxyConfig struct {
	ListenAddresses     []ListenAddressConfig             `yaml:"listen_addresses"`
	JWKSetPath          string                            `yaml:"jwk_set_path"`
	AuthTokenMapping    *AuthTokenMappingConfig           `yaml:"auth_token_mapping"`
	Backends            map[string]ProxyBackendConfig     `yaml:"backends"`
	PerInstanceBackends map[string]InstanceBackendsConfig `yaml:"per_instance_backends"`
	DefaultBackends     InstanceBackendsConfig            `yaml:"default_backends"`
	Infra               InfraConfig                       `yaml:"infra"`
	Grpc                GrpcConfig                        `yaml:"grpc"`
	BackendTimeouts     BackendTimeoutsConfig             `yaml:"backend_timeouts"`
}

// ListenAddressConfig is one entry of listen_addresses: an address, the
// auth scheme to enforce on it, and the gRPC service names it exposes.
type ListenAddressConfig struct {
	Addr                string   `yaml:"addr"`
	AuthScheme          string   `yaml:"auth_scheme"` // "jwt" | "auth_token" | "dev_only_no_auth"
	AllowedServiceNames []string `yaml:"allowed_service_names"`
}

// AuthTokenMappingConfig points the token refresher at the object holding
// the opaque bearer-token mapping (§4.4, §5).
type AuthTokenMappingConfig struct {
	S3Bucket          string `yaml:"s3_bucket"`
	S3Region          string `yaml:"s3_region"`
	S3Path            string `yaml:"s3_path"`
	RefreshFrequencyS int    `yaml:"refresh_frequency_s"`
}

// ProxyBackendConfig names a backend gRPC server the proxy may dial.
type ProxyBackendConfig struct {
	Address     string `yaml:"address"`
	Connections int    `yaml:"connections"`
}

// InstanceBackendsConfig names, by key into ProxyConfig.Backends, the
// backends a given instance (or the default_backends catch-all) routes
// through.
type InstanceBackendsConfig struct {
	CAS         string `yaml:"cas"`
	ActionCache string `yaml:"action_cache"`
	Execution   string `yaml:"execution"`
}

// BackendTimeoutsConfig is the only per-call timeout §4.4 currently names.
type BackendTimeoutsConfig struct {
	GetActionResultMs int `yaml:"get_action_result_ms"`
}

// DefaultProxyConfig has no listen addresses or backends configured —
// a proxy config with nothing overridden isn't useful on its own, unlike
// the storage/execution servers' in-memory defaults; it exists mainly so
// ReadFile has somewhere to merge onto.
func DefaultProxyConfig() *ProxyConfig {
	return &ProxyConfig{
		Backends: map[string]ProxyBackendConfig{},
		Infra:    DefaultInfraConfig(),
		Grpc:     DefaultGrpcConfig(),
	}
}
