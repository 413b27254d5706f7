package v1_routes_health

import (
	"encoding/json"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"

	vxl "github.com/voxcord/voxcord/src/common/voxlog"
)

var once = sync.Once{}

func createHealthCheck() http.HandlerFunc {

	var startTime = time.Now()
	hostname, err := os.Hostname()
	if err != nil {
		hostname = ""
	}

	return func(w http.ResponseWriter, req *http.Request) {

		var duration = time.Now().Sub(startTime)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)

		if err := json.NewEncoder(w).Encode(struct {
			OK            bool
			Hostname      string
			UptimeMillis  int64
			UptimeSeconds float64
			UptimeHours   float64
			UptimeDays    float64
		}{
			true,
			hostname,
			duration.Milliseconds(),
			duration.Seconds(),
			duration.Hours(),
			math.Floor(duration.Hours() / 24),
		}); err != nil {
			vxl.Stdout.Warn(vxl.Id("vid/77a2c40ef8d1"), "could not write health response:", err)
		}
	}
}

func Mount(r *mux.Router) {

	once.Do(func() {

		// we don't want to encounter errors from
		// accidentally calling Mount more than once

		h := createHealthCheck()
		r.Methods("GET").Path("/v1/health").HandlerFunc(h)
		r.Methods("GET").PathPrefix("/v1/health/").HandlerFunc(h)
	})
}
