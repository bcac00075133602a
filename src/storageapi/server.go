// Package storageapi implements the Storage service's gRPC façade: the
// ContentAddressableStorage, ByteStream, ActionCache, and Capabilities
// services, all backed by a storage.BlobStorage pipeline (§4.2, §4.3, §6).
package storageapi

import (
	"sync"

	"github.com/thought-machine/rexec/src/storage"
	"github.com/thought-machine/rexec/src/storage/actioncache"
)

// maxBatchTotalSizeBytes bounds BatchReadBlobs/BatchUpdateBlobs per the
// capability advertised in §6.
const maxBatchTotalSizeBytes = 4 * 1024 * 1024

// InstanceBackend is the storage configured for one REAPI instance name.
type InstanceBackend struct {
	CAS         storage.BlobStorage
	ActionCache *actioncache.Cache
}

// Server dispatches CAS/ByteStream/ActionCache/Capabilities calls to the
// configured backend for the request's instance_name, falling back to
// Default when the instance isn't separately configured.
type Server struct {
	mu        sync.RWMutex
	instances map[string]*InstanceBackend
	Default   *InstanceBackend
}

// NewServer constructs a Server with no per-instance overrides; every
// request is served by def until AddInstance is called.
func NewServer(def *InstanceBackend) *Server {
	return &Server{instances: map[string]*InstanceBackend{}, Default: def}
}

// AddInstance configures a dedicated backend for the named instance.
func (s *Server) AddInstance(name string, backend *InstanceBackend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[name] = backend
}

func (s *Server) backend(instanceName string) *InstanceBackend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.instances[instanceName]; ok {
		return b
	}
	return s.Default
}
