package authproxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRouterResolvesInstancesAndDefault(t *testing.T) {
	cas := &Backend{Name: "cas"}
	ac := &Backend{Name: "ac"}
	exec := &Backend{Name: "exec"}

	r, err := NewRouter(RouterConfig{
		Backends: map[string]*Backend{"cas": cas, "ac": ac, "exec": exec},
		Instances: map[string]InstanceNames{
			"customer-a": {CAS: "cas", ActionCache: "ac", Execution: "exec"},
			"cache-only": {CAS: "cas", ActionCache: "ac"},
		},
		Default: InstanceNames{CAS: "cas", ActionCache: "ac"},
	})
	require.NoError(t, err)

	route := r.Route("customer-a")
	assert.Same(t, cas, route.CAS)
	assert.Same(t, ac, route.ActionCache)
	assert.Same(t, exec, route.Execution)

	cacheOnly := r.Route("cache-only")
	assert.Same(t, cas, cacheOnly.CAS)
	assert.Nil(t, cacheOnly.Execution)

	fallback := r.Route("unconfigured-instance")
	assert.Same(t, cas, fallback.CAS)
	assert.Same(t, ac, fallback.ActionCache)
	assert.Nil(t, fallback.Execution)
}

func TestNewRouterFailsOnUnknownBackendName(t *testing.T) {
	_, err := NewRouter(RouterConfig{
		Backends: map[string]*Backend{"cas": {Name: "cas"}},
		Default:  InstanceNames{CAS: "cas", ActionCache: "missing"},
	})
	assert.Error(t, err)
}

func TestNewRouterFailsOnUnknownInstanceBackend(t *testing.T) {
	_, err := NewRouter(RouterConfig{
		Backends: map[string]*Backend{"cas": {Name: "cas"}, "ac": {Name: "ac"}},
		Default:  InstanceNames{CAS: "cas", ActionCache: "ac"},
		Instances: map[string]InstanceNames{
			"customer-a": {CAS: "cas", ActionCache: "ac", Execution: "does-not-exist"},
		},
	})
	assert.Error(t, err)
}
