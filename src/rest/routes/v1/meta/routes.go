package v1_routes_meta

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"

	"github.com/gorilla/mux"

	"github.com/voxcord/voxcord/src/common/gor"
	vox_err "github.com/voxcord/voxcord/src/common/verrors"
	vxl "github.com/voxcord/voxcord/src/common/voxlog"
	vxcf "github.com/voxcord/voxcord/src/config"
	vcall "github.com/voxcord/voxcord/src/ws/calls"
	vprs "github.com/voxcord/voxcord/src/ws/presence"
	vreg "github.com/voxcord/voxcord/src/ws/registry"
	vtop "github.com/voxcord/voxcord/src/ws/topics"
)

var once = sync.Once{}

// Deps is what the meta surface is allowed to look at -- read-only counts,
// nothing that mutates realtime state.
type Deps struct {
	Reg      *vreg.Registry
	Topics   *vtop.Router
	Presence *vprs.Tracker
	Calls    *vcall.Machine
}

func createMetaHandler(d *Deps) http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)

		if err := json.NewEncoder(w).Encode(struct {
			ProcUUID          string
			OnlineUsers       int
			VisibleUsers      int
			LiveConnections   int
			Topics            int
			CallSessions      int
			TrackedGoroutines int
			QueuedErrors      int
			HeapAllocMB       uint64
		}{
			vxcf.ProcUUID.String(),
			d.Reg.OnlineCount(),
			d.Presence.OnlineUserCount(),
			d.Reg.ConnCount(),
			d.Topics.TopicCount(),
			d.Calls.SessionCount(),
			gor.Count(),
			vox_err.ErrorQueue.Len(),
			memStats.HeapAlloc / 1024 / 1024,
		}); err != nil {
			vxl.Stdout.Warn(vxl.Id("vid/5e38c07d2fa9"), "could not write meta response:", err)
		}
	}
}

func createErrorsHandler() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		var errs []string
		vox_err.ErrorQueue.Iterate(func(item interface{}) {
			errs = append(errs, fmt.Sprintf("%v", item))
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)

		if err := json.NewEncoder(w).Encode(struct {
			Count  int
			Errors []string
		}{len(errs), errs}); err != nil {
			vxl.Stdout.Warn(vxl.Id("vid/bf90e51a26d7"), "could not write errors response:", err)
		}
	}
}

func Mount(r *mux.Router, d *Deps) {

	once.Do(func() {
		r.Methods("GET").Path("/v1/meta").HandlerFunc(createMetaHandler(d))
		r.Methods("GET").Path("/v1/meta/errors").HandlerFunc(createErrorsHandler())
	})
}
