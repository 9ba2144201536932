package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/sovereign-gateway/internal/domain"
)

func TestDefaultTablesSatisfyInvariants(t *testing.T) {
	_, err := New(DefaultTables())
	require.NoError(t, err)
	assert.NotPanics(t, func() { Default() })
}

func TestNew_RejectsReadToolOutsideFullAllowlist(t *testing.T) {
	tables := DefaultTables()
	tables.DownstreamRead["stitch"] = append(tables.DownstreamRead["stitch"], "drop_database")

	_, err := New(tables)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drop_database")
	assert.Panics(t, func() { MustNew(tables) })
}

func TestNew_RejectsReadAllowlistForUnknownDownstream(t *testing.T) {
	tables := DefaultTables()
	tables.DownstreamRead["ghost"] = []string{"x"}

	_, err := New(tables)
	assert.Error(t, err)
}

func TestNew_RejectsWriteOnlyOutsideInbound(t *testing.T) {
	tables := DefaultTables()
	tables.WriteOnly = append(tables.WriteOnly, "shadow.tool")

	_, err := New(tables)
	assert.Error(t, err)
}

func TestAuthorizeTool(t *testing.T) {
	e := Default()

	for _, scope := range []domain.Scope{domain.ScopeRead, domain.ScopeWrite} {
		assert.ErrorIs(t, e.AuthorizeTool(scope, "shell.exec"), ErrToolNotAllowlisted, "scope %s", scope)
	}

	for _, tool := range DefaultTables().WriteOnly {
		assert.ErrorIs(t, e.AuthorizeTool(domain.ScopeRead, tool), ErrToolRequiresWrite, tool)
		assert.NoError(t, e.AuthorizeTool(domain.ScopeWrite, tool), tool)
	}

	assert.NoError(t, e.AuthorizeTool(domain.ScopeRead, ToolGetState))
	assert.NoError(t, e.AuthorizeTool(domain.ScopeRead, ToolCallDownstream))
}

func TestAuthorizeDownstream(t *testing.T) {
	e := Default()

	tests := []struct {
		name       string
		scope      domain.Scope
		downstream string
		tool       string
		want       error
	}{
		{"read tool with read scope", domain.ScopeRead, "stitch", "get_screen", nil},
		{"write tool with write scope", domain.ScopeWrite, "stitch", "generate_screen_fr", nil},
		{"write tool with read scope", domain.ScopeRead, "stitch", "generate_screen_fr", ErrDownstreamToolRequiresWrite},
		{"reindex needs write", domain.ScopeRead, "memory_accelerator", "memory_reindex", ErrDownstreamToolRequiresWrite},
		{"unknown tool", domain.ScopeWrite, "stitch", "delete_everything", ErrDownstreamToolNotAllowlisted},
		{"unknown downstream", domain.ScopeWrite, "nope", "get_screen", ErrDownstreamToolNotAllowlisted},
		{"tool of another downstream", domain.ScopeWrite, "memory_accelerator", "get_screen", ErrDownstreamToolNotAllowlisted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.AuthorizeDownstream(tt.scope, tt.downstream, tt.tool)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDistinctMessages(t *testing.T) {
	msgs := map[string]bool{}
	for _, err := range []*Error{ErrToolNotAllowlisted, ErrToolRequiresWrite, ErrDownstreamToolNotAllowlisted, ErrDownstreamToolRequiresWrite} {
		assert.False(t, msgs[err.Message], "duplicate message %q", err.Message)
		msgs[err.Message] = true
	}
}

func TestDownstreams(t *testing.T) {
	assert.Equal(t, []string{"memory_accelerator", "stitch"}, Default().Downstreams())
}
