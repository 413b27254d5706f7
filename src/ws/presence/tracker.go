package vprs

import (
	"context"
	"sync"
	"time"

	vapm "github.com/voxcord/voxcord/src/common/apm"
	vxl "github.com/voxcord/voxcord/src/common/voxlog"
	vev "github.com/voxcord/voxcord/src/ws/events"
)

const (
	StatusOnline  = "online"
	StatusIdle    = "idle"
	StatusDnd     = "dnd"
	StatusOffline = "offline"
)

func IsValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDnd, StatusOffline:
		return true
	}
	return false
}

// SocialGraph answers who is allowed to observe a user's presence.
type SocialGraph interface {
	FriendIds(ctx context.Context, userId string) ([]string, error)
}

// LiveConns answers whether a user holds at least one registered connection
// right now. The tracker consults it before marking anyone online: connect
// and disconnect notifications can arrive on different goroutines, and a
// late online notification for a connection that is already gone must not
// mark a connectionless user online.
type LiveConns interface {
	IsOnline(userId string) bool
}

// Mirror receives coarse status writes for sibling services. Failures there
// never affect in-process fan-out.
type Mirror interface {
	SetStatus(ctx context.Context, userId string, status string) error
}

// Publisher fans a presence frame out to a user's inbox topic.
type Publisher interface {
	PublishToInbox(userId string, frame *vev.OutFrame) int
}

type entry struct {
	status       string
	offlineTimer *time.Timer
}

// Tracker owns presence state. Going offline is debounced: a tab refresh
// drops and re-opens the socket within a second or two, and friends should
// never see an offline/online flap for that.
type Tracker struct {
	mu       sync.Mutex
	users    map[string]*entry
	debounce time.Duration

	live   LiveConns
	graph  SocialGraph
	mirror Mirror
	pub    Publisher

	stopped bool
}

func NewTracker(debounce time.Duration, live LiveConns, graph SocialGraph, mirror Mirror, pub Publisher) *Tracker {
	return &Tracker{
		users:    map[string]*entry{},
		debounce: debounce,
		live:     live,
		graph:    graph,
		mirror:   mirror,
		pub:      pub,
	}
}

// UserOnline is called on a user's first live connection. If an offline
// debounce is pending the reconnect cancels it silently -- friends saw
// "online" the whole time and still do.
func (t *Tracker) UserOnline(userId string) {

	// the notification may be delivered after the connection that caused it
	// already disconnected; the registry is the authority on "has conns"
	if t.live != nil && !t.live.IsOnline(userId) {
		vxl.Stdout.Debug(vxl.Id("vid/4fe8c02a9d61"), "stale online notification, user has no live conns:", userId)
		return
	}

	t.mu.Lock()

	e := t.users[userId]
	if e == nil {
		e = &entry{}
		t.users[userId] = e
	}

	if e.offlineTimer != nil {
		e.offlineTimer.Stop()
		e.offlineTimer = nil
		t.mu.Unlock()
		vxl.Stdout.Debug(vxl.Id("vid/c5d2e94f01ab"), "reconnect within debounce window, no flap for user:", userId)
		return
	}

	if e.status != "" && e.status != StatusOffline {
		// already online under some status, nothing changed
		t.mu.Unlock()
		return
	}

	e.status = StatusOnline
	t.mu.Unlock()

	t.fanout(userId, StatusOnline)

	// the connection may have dropped between the check above and the mark;
	// if so, fall into the normal debounced-offline path instead of staying
	// online with zero connections
	if t.live != nil && !t.live.IsOnline(userId) {
		t.UserWentOffline(userId)
	}
}

// UserWentOffline is called when a user's last connection drops. The
// transition is not final until the debounce window passes with no
// reconnect.
func (t *Tracker) UserWentOffline(userId string) {

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}

	e := t.users[userId]
	if e == nil || e.status == "" || e.status == StatusOffline {
		return
	}

	if e.offlineTimer != nil {
		// already counting down
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(t.debounce, func() {
		t.finalizeOffline(userId, timer)
	})
	e.offlineTimer = timer
}

func (t *Tracker) finalizeOffline(userId string, self *time.Timer) {

	t.mu.Lock()

	e := t.users[userId]
	// identity check: a reconnect may have cancelled this timer and a later
	// disconnect may have armed a new one -- only the currently armed timer
	// gets to flip the user offline
	if e == nil || e.offlineTimer != self {
		t.mu.Unlock()
		return
	}

	e.offlineTimer = nil
	delete(t.users, userId)
	t.mu.Unlock()

	t.fanout(userId, StatusOffline)
}

// SetStatus applies an explicit, user-chosen status with no debounce. An
// explicit offline retires the record immediately, the same way the debounce
// path does -- entries only exist while a user is visible.
func (t *Tracker) SetStatus(userId string, status string) {

	t.mu.Lock()

	e := t.users[userId]

	cur := StatusOffline
	if e != nil && e.status != "" {
		cur = e.status
	}
	if cur == status {
		t.mu.Unlock()
		return
	}

	if status == StatusOffline {
		if e != nil {
			if e.offlineTimer != nil {
				e.offlineTimer.Stop()
				e.offlineTimer = nil
			}
			delete(t.users, userId)
		}
		t.mu.Unlock()
		t.fanout(userId, StatusOffline)
		return
	}

	if e == nil {
		e = &entry{}
		t.users[userId] = e
	}
	e.status = status
	t.mu.Unlock()

	t.fanout(userId, status)
}

// Status reports the externally visible status: a user inside the offline
// debounce window is still online to observers.
func (t *Tracker) Status(userId string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.users[userId]
	if e == nil || e.status == "" {
		return StatusOffline
	}
	return e.status
}

func (t *Tracker) OnlineUserCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.users)
}

// Stop cancels all pending offline timers. Used at shutdown.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for _, e := range t.users {
		if e.offlineTimer != nil {
			e.offlineTimer.Stop()
			e.offlineTimer = nil
		}
	}
}

// fanout pushes presence:changed to every friend's inbox topic and mirrors
// the status to redis. Friend lookup failures degrade to "no observers",
// never to an error on the presence path.
func (t *Tracker) fanout(userId string, status string) {

	frame := vev.NewOut(vev.EvPresenceChanged, &vev.PresenceChanged{
		UserId: userId,
		Status: status,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if t.graph != nil && t.pub != nil {
		friends, err := t.graph.FriendIds(ctx, userId)
		if err != nil {
			vxl.Stdout.Warn(vxl.Id("vid/d81c03e6fa27"), "presence fan-out skipped, friend lookup failed for:", userId, err)
		} else {
			for _, fid := range friends {
				t.pub.PublishToInbox(fid, frame)
			}
		}
	}

	if t.mirror != nil {
		if err := t.mirror.SetStatus(ctx, userId, status); err != nil {
			vapm.SendTrace("vid/9f20c74be1d8", "presence mirror write failed:", userId, status)
		}
	}
}
