package authproxy

import (
	"fmt"

	"google.golang.org/grpc"
)

// Backend is one named upstream gRPC connection the proxy can route calls
// to: a storage server, an execution server, or (in tests) a single
// process serving both. Connections are dialed once at startup and reused
// for the life of the process, following the teacher's dial-options idiom
// (src/remote/dialparams.go, since deleted) of a bounded max receive size
// and a stats handler for tracing.
type Backend struct {
	Name string
	Conn *grpc.ClientConn
}

// InstanceRoute is the resolved backend set for one REAPI instance name:
// CAS and ActionCache always share a backend pair, Execution is optional
// since an instance may be cache-only.
type InstanceRoute struct {
	CAS         *Backend
	ActionCache *Backend
	Execution   *Backend
}

// Router maps (instance name) → InstanceRoute, falling back to a
// catch-all for unconfigured instances, per §4.4's "Instance routing".
// Only backends declared in the backends config table may be referenced by
// name; NewRouter fails fast otherwise so a typo'd instance config is
// caught at startup rather than surfacing as a runtime 5xx.
type Router struct {
	backends map[string]*Backend
	routes   map[string]InstanceRoute
	catchAll InstanceRoute
}

// RouterConfig is the parsed form of the proxy config's backends,
// per_instance_backends, and default_backends blocks (§6).
type RouterConfig struct {
	Backends  map[string]*Backend
	Instances map[string]InstanceNames
	Default   InstanceNames
}

// InstanceNames names backends by the config keys used in RouterConfig.Backends,
// deferred from resolving to *Backend until NewRouter so unknown names are
// reported with the offending instance attached.
type InstanceNames struct {
	CAS         string
	ActionCache string
	Execution   string
}

// NewRouter validates cfg and builds a Router. It returns an error
// immediately if any named backend isn't present in cfg.Backends.
func NewRouter(cfg RouterConfig) (*Router, error) {
	r := &Router{backends: cfg.Backends, routes: map[string]InstanceRoute{}}
	catchAll, err := resolve(cfg.Backends, "default_backends", cfg.Default)
	if err != nil {
		return nil, err
	}
	r.catchAll = catchAll
	for instance, names := range cfg.Instances {
		route, err := resolve(cfg.Backends, instance, names)
		if err != nil {
			return nil, err
		}
		r.routes[instance] = route
	}
	return r, nil
}

func resolve(backends map[string]*Backend, instance string, names InstanceNames) (InstanceRoute, error) {
	var route InstanceRoute
	var err error
	if route.CAS, err = lookup(backends, names.CAS); err != nil {
		return route, fmt.Errorf("instance %q: cas backend: %w", instance, err)
	}
	if route.ActionCache, err = lookup(backends, names.ActionCache); err != nil {
		return route, fmt.Errorf("instance %q: action_cache backend: %w", instance, err)
	}
	if names.Execution != "" {
		if route.Execution, err = lookup(backends, names.Execution); err != nil {
			return route, fmt.Errorf("instance %q: execution backend: %w", instance, err)
		}
	}
	return route, nil
}

func lookup(backends map[string]*Backend, name string) (*Backend, error) {
	if name == "" {
		return nil, fmt.Errorf("no backend named")
	}
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("no backend configured named %q", name)
	}
	return b, nil
}

// Route returns the InstanceRoute for instanceName, falling back to the
// catch-all when the instance has no dedicated configuration.
func (r *Router) Route(instanceName string) InstanceRoute {
	if route, ok := r.routes[instanceName]; ok {
		return route
	}
	return r.catchAll
}
