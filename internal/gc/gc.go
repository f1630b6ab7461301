// Package gc implements the tri-color reachability sweep (spec §4.7)
// that decides which Files become unloadable after a close: a File with
// RefCount > 0 is a root; reachability flows across both DT_NEEDED
// dependency edges and the SymbolsResolvedIn back-references recorded
// during relocation, since a dependency kept alive purely because it
// satisfied a lookup must survive as long as the requester does.
package gc

import (
	"github.com/elfloader/govdl/internal/vdlctx"
)

// Collector computes and applies unload sets against an Engine's arena.
type Collector struct {
	Engine *vdlctx.Engine
}

// New creates a Collector bound to e.
func New(e *vdlctx.Engine) *Collector { return &Collector{Engine: e} }

// getWhite marks every file reachable from a root (RefCount > 0) black,
// via BFS over deps ∪ SymbolsResolvedIn, and returns every file left
// white (unreachable), in link-map order.
func (c *Collector) getWhite() []*vdlctx.File {
	linkMap := c.Engine.LinkMap()
	var grey []*vdlctx.File

	for _, f := range linkMap {
		if f.IsRoot() {
			f.GCColor = vdlctx.GCGrey
			grey = append(grey, f)
		} else {
			f.GCColor = vdlctx.GCWhite
		}
	}

	for len(grey) > 0 {
		cur := grey[0]
		grey = grey[1:]

		for id := range cur.SymbolsResolvedIn {
			if ref := c.Engine.File(id); ref != nil && ref.GCColor == vdlctx.GCWhite {
				ref.GCColor = vdlctx.GCGrey
				grey = append(grey, ref)
			}
		}
		for _, id := range cur.Deps {
			if ref := c.Engine.File(id); ref != nil && ref.GCColor == vdlctx.GCWhite {
				ref.GCColor = vdlctx.GCGrey
				grey = append(grey, ref)
			}
		}
		cur.GCColor = vdlctx.GCBlack
	}

	var white []*vdlctx.File
	for _, f := range linkMap {
		if f.GCColor == vdlctx.GCWhite {
			white = append(white, f)
		}
	}
	return white
}

// removeFile unlinks f from the link-map and from every other file's
// local/global scope, so a subsequent getWhite pass over the surviving
// files never sees it again.
func (c *Collector) removeFile(ctx *vdlctx.Context, f *vdlctx.File) {
	c.Engine.RemoveLinkMap(f.ID)

	for _, other := range c.Engine.LinkMap() {
		other.LocalScope = removeID(other.LocalScope, f.ID)
	}
	if ctx != nil {
		ctx.RemoveLoaded(f.ID)
		ctx.GlobalScope = removeID(ctx.GlobalScope, f.ID)
	}
}

func removeID(ids []vdlctx.FileID, target vdlctx.FileID) []vdlctx.FileID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// ObjectsToUnload repeatedly computes the white set and removes it from
// the link-map until nothing new turns white, then returns every
// collected file in the order it became unreachable — a dependency of a
// just-unloaded file can itself turn white on a later pass, matching
// vdl_gc_get_objects_to_unload's fixpoint loop.
func (c *Collector) ObjectsToUnload(ctx *vdlctx.Context) []*vdlctx.File {
	var all []*vdlctx.File
	for {
		white := c.getWhite()
		if len(white) == 0 {
			return all
		}
		for _, f := range white {
			c.removeFile(ctx, f)
		}
		all = append(all, white...)
	}
}
