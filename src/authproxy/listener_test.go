package authproxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceAllowedEmptyListAllowsEverything(t *testing.T) {
	assert.True(t, serviceAllowed(nil, "/build.bazel.remote.execution.v2.ActionCache/GetActionResult"))
}

func TestServiceAllowedMatchesExactService(t *testing.T) {
	allowed := []string{"build.bazel.remote.execution.v2.ActionCache"}
	assert.True(t, serviceAllowed(allowed, "/build.bazel.remote.execution.v2.ActionCache/GetActionResult"))
	assert.False(t, serviceAllowed(allowed, "/build.bazel.remote.execution.v2.Execution/Execute"))
}

func TestSchemeFromContextDefaultsZeroValue(t *testing.T) {
	assert.Equal(t, SchemeJwt, schemeFromContext(context.Background()))
}

func TestSchemeFromContextRecoversInjectedScheme(t *testing.T) {
	ctx := context.WithValue(context.Background(), schemeKey{}, SchemeAuthToken)
	assert.Equal(t, SchemeAuthToken, schemeFromContext(ctx))
}
