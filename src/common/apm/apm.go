package vapm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	vxl "github.com/voxcord/voxcord/src/common/voxlog"
)

var apmUrl = os.Getenv("vox_apm_url")

var client = &http.Client{
	Timeout: 5 * time.Second,
}

type tracePayload struct {
	TraceId   string   `json:"traceId"`
	Messages  []string `json:"messages"`
	CreatedAt string   `json:"createdAt"`
}

// SendTrace ships a trace to the APM endpoint, fire-and-forget. A missing
// endpoint or a failed POST only ever costs a debug log line.
func SendTrace(id string, args ...interface{}) {
	if apmUrl == "" {
		return
	}

	var msgs = make([]string, 0, len(args))
	for _, a := range args {
		msgs = append(msgs, fmt.Sprintf("%v", a))
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				vxl.Stdout.Debug(vxl.Id("vid/0aa41be67c12"), "recovered in apm send:", r)
			}
		}()

		b, err := json.Marshal(tracePayload{
			TraceId:   id,
			Messages:  msgs,
			CreatedAt: time.Now().UTC().String(),
		})
		if err != nil {
			vxl.Stdout.Debug(vxl.Id("vid/b1c07d2ee4a9"), "could not marshal apm trace:", err)
			return
		}

		resp, err := client.Post(apmUrl, "application/json", bytes.NewReader(b))
		if err != nil {
			vxl.Stdout.Debug(vxl.Id("vid/37c55e01fa44"), "could not send apm trace:", err)
			return
		}
		_ = resp.Body.Close()
	}()
}
