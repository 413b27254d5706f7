package vuc

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	vhp "github.com/voxcord/voxcord/src/common/handle-panic"
	vxl "github.com/voxcord/voxcord/src/common/voxlog"
	vev "github.com/voxcord/voxcord/src/ws/events"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 25 * time.Second
)

// Conn is the per-socket context. One is created per websocket upgrade and
// lives until the socket dies. Everything downstream (registry, topics,
// presence, calls) holds *Conn, never the raw websocket -- delivery goes
// through Enqueue so a slow or dead client can never block a publisher.
type Conn struct {
	Id        uuid.UUID
	CreatedAt time.Time

	mu       sync.RWMutex
	userId   string
	deviceId string

	queue chan *vev.OutFrame
	done  chan struct{}

	CloseOnce     sync.Once
	onDisconnects []func()

	WSConn  *websocket.Conn
	writeMu sync.Mutex
}

// NewConn works with a nil websocket too -- tests drive the queue directly
// via Outbox() without any network in play.
func NewConn(ws *websocket.Conn, queueSize int) *Conn {
	if queueSize < 1 {
		queueSize = 64
	}
	return &Conn{
		Id:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		queue:     make(chan *vev.OutFrame, queueSize),
		done:      make(chan struct{}),
		WSConn:    ws,
	}
}

// SetOwner binds the authenticated identity. Called exactly once, by the
// authenticate handler.
func (c *Conn) SetOwner(userId string, deviceId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userId = userId
	c.deviceId = deviceId
}

func (c *Conn) Owner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userId
}

func (c *Conn) DeviceId() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceId
}

func (c *Conn) IsAuthed() bool {
	return c.Owner() != ""
}

// OnDisconnect registers a teardown hook, run once when the conn closes.
func (c *Conn) OnDisconnect(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnects = append(c.onDisconnects, f)
}

// Enqueue hands a frame to the write pump without ever blocking the caller.
// If the buffer is full the frame is dropped -- the client is too slow and
// realtime frames go stale anyway.
func (c *Conn) Enqueue(f *vev.OutFrame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- f:
		return true
	case <-c.done:
		return false
	default:
		vxl.Stdout.Warn(
			vxl.Id("vid/2fa804cd913e"),
			"dropping frame, outbound queue full for conn:", c.Id.String(), "type:", f.Type,
		)
		return false
	}
}

// Outbox exposes the outbound queue for the write pump and for tests.
func (c *Conn) Outbox() <-chan *vev.OutFrame {
	return c.queue
}

func (c *Conn) Closed() <-chan struct{} {
	return c.done
}

// WritePump is the single goroutine allowed to write to the websocket. It
// drains the queue and keeps the socket alive with pings.
func (c *Conn) WritePump() {

	defer vhp.HandlePanicWithConnId("vid/6b55dd07e2c1", c.Id.String())

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {

		case f, ok := <-c.queue:
			if !ok {
				return
			}
			b, err := f.MarshalJSON()
			if err != nil {
				vxl.Stdout.Error(vxl.Id("vid/90eac15d73b2"), "could not marshal outbound frame:", err)
				continue
			}
			c.writeMu.Lock()
			_ = c.WSConn.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.WSConn.WriteMessage(websocket.TextMessage, b)
			c.writeMu.Unlock()
			if err != nil {
				vxl.Stdout.Debug(vxl.Id("vid/31f6c08ba49d"), "write failed, closing conn:", c.Id.String(), err)
				c.SafeClose(true)
				return
			}

		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.WSConn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.WSConn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.SafeClose(true)
				return
			}

		case <-c.done:
			return
		}
	}
}

// SafeClose tears the conn down exactly once: closes the done channel, the
// socket if any, then runs the disconnect hooks in registration order.
func (c *Conn) SafeClose(ignoreError bool) {
	c.CloseOnce.Do(func() {

		close(c.done)

		if c.WSConn != nil {
			if err := c.WSConn.Close(); err != nil && !ignoreError {
				vxl.Stdout.Warn(vxl.Id("vid/e4183f0ca69b"), "error closing ws conn:", err)
			}
		}

		c.mu.RLock()
		hooks := make([]func(), len(c.onDisconnects))
		copy(hooks, c.onDisconnects)
		c.mu.RUnlock()

		for _, f := range hooks {
			func() {
				defer vhp.HandlePanicWithConnId("vid/bd2370f5a814", c.Id.String())
				f()
			}()
		}
	})
}
