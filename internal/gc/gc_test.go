package gc

import (
	"testing"

	"github.com/elfloader/govdl/internal/vdlctx"
)

// chain: root (RefCount 1) -> dep -> transitive, plus an orphan with no
// root path, mirroring a close that drops the only handle to a library
// while a sibling stays open.
func buildChain(e *vdlctx.Engine) (root, dep, transitive, orphan *vdlctx.File) {
	root = e.NewFile()
	root.RefCount = 1
	dep = e.NewFile()
	transitive = e.NewFile()
	orphan = e.NewFile()

	root.Deps = []vdlctx.FileID{dep.ID}
	dep.Deps = []vdlctx.FileID{transitive.ID}

	for _, f := range []*vdlctx.File{root, dep, transitive, orphan} {
		e.AppendLinkMap(f)
	}
	return
}

func TestObjectsToUnloadKeepsReachableChain(t *testing.T) {
	e := vdlctx.NewEngine()
	c := New(e)
	root, dep, transitive, orphan := buildChain(e)

	unload := c.ObjectsToUnload(nil)

	unloaded := make(map[vdlctx.FileID]bool)
	for _, f := range unload {
		unloaded[f.ID] = true
	}
	if unloaded[root.ID] || unloaded[dep.ID] || unloaded[transitive.ID] {
		t.Errorf("reachable chain should not be unloaded: %v", unload)
	}
	if !unloaded[orphan.ID] {
		t.Error("orphan with no root path should be unloaded")
	}
	if e.File(orphan.ID) != nil {
		t.Error("orphan should have been removed from the engine arena")
	}
	if e.File(root.ID) == nil {
		t.Error("root should still be present in the engine arena")
	}
}

func TestObjectsToUnloadWhenRootDrops(t *testing.T) {
	e := vdlctx.NewEngine()
	c := New(e)
	root, dep, transitive, _ := buildChain(e)
	root.RefCount = 0 // the only handle was just closed

	unload := c.ObjectsToUnload(nil)

	unloaded := make(map[vdlctx.FileID]bool)
	for _, f := range unload {
		unloaded[f.ID] = true
	}
	for _, id := range []vdlctx.FileID{root.ID, dep.ID, transitive.ID} {
		if !unloaded[id] {
			t.Errorf("file %d should be unloaded once its only root dropped", id)
		}
	}
}

func TestSymbolBackrefKeepsDependencyAlive(t *testing.T) {
	e := vdlctx.NewEngine()
	c := New(e)
	root := e.NewFile()
	root.RefCount = 1
	provider := e.NewFile()
	root.SymbolsResolvedIn = map[vdlctx.FileID]bool{provider.ID: true}

	e.AppendLinkMap(root)
	e.AppendLinkMap(provider)

	unload := c.ObjectsToUnload(nil)
	if len(unload) != 0 {
		t.Errorf("provider reachable via SymbolsResolvedIn should not be unloaded: %v", unload)
	}
}

func TestRemoveIDFiltersExactly(t *testing.T) {
	ids := []vdlctx.FileID{1, 2, 3, 2}
	got := removeID(ids, 2)
	want := []vdlctx.FileID{1, 3}
	if len(got) != len(want) {
		t.Fatalf("removeID = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("removeID[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
