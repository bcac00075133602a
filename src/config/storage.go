package config

// StorageConfig is the storage server's config document (§6): `{listen_address,
// cas: <driver-tree>, action_cache: <driver-tree>, infra?, grpc?,
// redis_backends?, check_action_cache_completeness?,
// completeness_check_probability?, amberflo_backend?}`.
type StorageConfig struct {
	ListenAddress                string                        `yaml:"listen_address"`
	CAS                          BlobStorageConfig             `yaml:"cas"`
	ActionCache                  BlobStorageConfig             `yaml:"action_cache"`
	Infra                        InfraConfig                   `yaml:"infra"`
	Grpc                         GrpcConfig                    `yaml:"grpc"`
	RedisBackends                map[string]RedisBackendConfig `yaml:"redis_backends"`
	CheckActionCacheCompleteness bool                          `yaml:"check_action_cache_completeness"`
	CompletenessCheckProbability uint32                        `yaml:"completeness_check_probability"`
	AmberfloBackend              *AmberfloBackendConfig        `yaml:"amberflo_backend"`
}

// AmberfloBackendConfig configures the metered-storage usage emitter
// (§5's "Metered-storage aggregator / Amberflo emitter").
type AmberfloBackendConfig struct {
	CustomerIDPrefix              string `yaml:"customer_id_prefix"`
	APIKeyFile                    string `yaml:"api_key_file"`
	AggregationWindowDurationSecs int    `yaml:"aggregation_window_duration_secs"`
	EnvDimension                  string `yaml:"env_dimension"`
	APIIngestURL                  string `yaml:"api_ingest_url"`
}

// DefaultStorageConfig mirrors the Rust original's reasonable-defaults
// shape: an all-in-memory pipeline with completeness checking on, so the
// server is immediately useful with no config file at all.
func DefaultStorageConfig() *StorageConfig {
	memory := BlobStorageConfig{Memory: &struct{}{}}
	return &StorageConfig{
		ListenAddress:                "0.0.0.0:8980",
		CAS:                          memory,
		ActionCache:                  BlobStorageConfig{Memory: &struct{}{}},
		Infra:                        DefaultInfraConfig(),
		Grpc:                         DefaultGrpcConfig(),
		CheckActionCacheCompleteness: true,
		CompletenessCheckProbability: 1000,
	}
}
