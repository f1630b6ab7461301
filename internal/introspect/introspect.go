// Package introspect serves a read-only JSON snapshot of the link-map
// over cleartext HTTP/2 (h2c), an ambient surface the teacher has no
// analog for: galago is a one-shot emulation harness with no long-lived
// process to inspect, while this loader keeps a process alive and
// already exposes the same link-map to GDB via internal/rendezvous —
// this package is a second, HTTP-speaking angle on the same "debugger
// cooperates with a live loader" idea.
package introspect

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/elfloader/govdl/internal/vdlctx"
)

// FileSnapshot is one File's externally-visible state.
type FileSnapshot struct {
	ID          vdlctx.FileID `json:"id"`
	Path        string        `json:"path"`
	DisplayName string        `json:"display_name"`
	LoadBase    uint64        `json:"load_base"`
	Entry       uint64        `json:"entry,omitempty"`
	RefCount    int32         `json:"ref_count"`
	Deps        []vdlctx.FileID `json:"deps"`
	Patched     bool          `json:"patched"`
}

// Snapshot is the full link-map as of the moment it was taken.
type Snapshot struct {
	LinkMapHead vdlctx.FileID  `json:"link_map_head"`
	Files       []FileSnapshot `json:"files"`
	Started     bool           `json:"started"`
}

// Take walks e's link-map under its lock and returns a point-in-time
// copy safe to marshal without holding the engine lock any longer than
// the walk itself.
func Take(e *vdlctx.Engine) Snapshot {
	e.Mu.Lock()
	defer e.Mu.Unlock()

	snap := Snapshot{LinkMapHead: e.LinkMapHead, Started: e.Started}
	for id := e.LinkMapHead; id != 0; {
		f := e.File(id)
		if f == nil {
			break
		}
		snap.Files = append(snap.Files, FileSnapshot{
			ID:          f.ID,
			Path:        f.Path,
			DisplayName: f.DisplayName,
			LoadBase:    f.LoadBase,
			Entry:       f.Entry,
			RefCount:    f.RefCount,
			Deps:        f.Deps,
			Patched:     f.Status.Patched,
		})
		id = f.Next
	}
	return snap
}

// Server serves GET /linkmap as a JSON Snapshot.
type Server struct {
	Engine *vdlctx.Engine
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/linkmap" || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Take(s.Engine))
}

// Listen starts an h2c (HTTP/2 over cleartext, no TLS) listener serving
// the link-map snapshot endpoint at addr, returning once the listener
// is bound. Call Close (or cancel ctx) to shut it down.
func Listen(ctx context.Context, addr string, e *vdlctx.Engine) (*http.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	h2s := &http2.Server{}
	srv := &http.Server{
		Handler: h2c.NewHandler(&Server{Engine: e}, h2s),
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		_ = srv.Serve(lis)
	}()
	return srv, nil
}
