package vsig

import (
	"encoding/json"

	vox_err "github.com/voxcord/voxcord/src/common/verrors"
	vxl "github.com/voxcord/voxcord/src/common/voxlog"
	vev "github.com/voxcord/voxcord/src/ws/events"
	vreg "github.com/voxcord/voxcord/src/ws/registry"
	vuc "github.com/voxcord/voxcord/src/ws/uc"
)

// Relay forwards opaque signaling payloads (SDP offers/answers, ICE
// candidates, screen-share negotiation) between users. The payload is never
// parsed or validated here -- the endpoints negotiate, the server carries.
type Relay struct {
	reg *vreg.Registry
}

func NewRelay(reg *vreg.Registry) *Relay {
	return &Relay{reg: reg}
}

// Send delivers the payload to every live connection of the target user,
// byte-for-byte identical on each. Which device answers is the endpoints'
// problem, not ours.
func (r *Relay) Send(from *vuc.Conn, targetUserId string, payload json.RawMessage) error {

	senderId := from.Owner()
	if senderId == "" {
		return vox_err.Unauthorized("vid/83fd0c217a5e", "cannot relay signaling before authenticating")
	}

	conns := r.reg.ConnectionsFor(targetUserId)
	if len(conns) == 0 {
		return vox_err.PeerUnreachable("vid/f51a9d32c08b", "target user has no live connections: %s", targetUserId)
	}

	frame := vev.NewOut(vev.EvSignalRelay, &vev.SignalEvent{
		SenderId: senderId,
		Payload:  payload,
	})

	var n = 0
	for _, c := range conns {
		if c.Enqueue(frame) {
			n++
		}
	}

	vxl.Stdout.Trace(vxl.Id("vid/0d74c2e9b8a1"), "relayed signaling frame from:", senderId, "to:", targetUserId, "conns:", n)
	return nil
}
