package symbol

import (
	"testing"

	"github.com/elfloader/govdl/internal/vdlctx"
)

func TestScopeOrdering(t *testing.T) {
	local := []*vdlctx.File{{DisplayName: "local"}}
	global := []*vdlctx.File{{DisplayName: "global"}}
	localFn := func(*vdlctx.File) []*vdlctx.File { return local }
	globalFn := func(*vdlctx.File) []*vdlctx.File { return global }

	cases := []struct {
		policy vdlctx.ScopeLookup
		want   []string
	}{
		{vdlctx.ScopeLocalThenGlobal, []string{"local", "global"}},
		{vdlctx.ScopeGlobalThenLocal, []string{"global", "local"}},
		{vdlctx.ScopeLocalOnly, []string{"local"}},
		{vdlctx.ScopeGlobalOnly, []string{"global"}},
	}

	for _, c := range cases {
		f := &vdlctx.File{Lookup: c.policy}
		got := Scope(f, localFn, globalFn)
		if len(got) != len(c.want) {
			t.Fatalf("policy %v: got %d entries, want %d", c.policy, len(got), len(c.want))
		}
		for i, name := range c.want {
			if got[i].DisplayName != name {
				t.Fatalf("policy %v: entry %d = %s, want %s", c.policy, i, got[i].DisplayName, name)
			}
		}
	}
}
