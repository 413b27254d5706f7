package ws_conn

import (
	"sync"

	vxl "github.com/voxcord/voxcord/src/common/voxlog"
)

type ConnectionCounter struct {
	mu sync.Mutex // protects n
	n  int        // number of active connections
}

func (c *ConnectionCounter) Increase() {
	c.mu.Lock()
	c.n++
	n := c.n
	c.mu.Unlock()
	vxl.Stdout.InfoF("Active connections for wss: %d", n)
}

func (c *ConnectionCounter) Decrease() {
	c.mu.Lock()
	c.n--
	n := c.n
	c.mu.Unlock()
	vxl.Stdout.InfoF("Active connections for wss: %d", n)
}

func (c *ConnectionCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
