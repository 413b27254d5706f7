package vox_redis

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	vxl "github.com/voxcord/voxcord/src/common/voxlog"
)

type RedisConnection struct {
	conn *redis.Client
	mu   *sync.RWMutex
}

type RedisConnectionPool struct {
	mu          *sync.Mutex
	counter     int
	connections []*RedisConnection
	connString  string
}

func createConnection(pool *RedisConnectionPool) (*redis.Client, error) {
	// tcp-no-delay matters here: presence writes are tiny and frequent
	conn := redis.NewClient(&redis.Options{
		Addr:            pool.connString,
		Password:        "",
		DB:              0,
		PoolSize:        3,
		MinRetryBackoff: 3 * time.Second,
		MaxRetryBackoff: 7 * time.Second,
		MinIdleConns:    1,
		PoolTimeout:     30,
		Dialer: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := net.DialTimeout(network, addr, 5*time.Second)
			if err != nil {
				return nil, err
			}
			tcpConn, ok := conn.(*net.TCPConn)
			if !ok {
				vxl.Stdout.Warn(vxl.Id("vid/8c30e17d5baf"), "could not get tcp conn type")
				return nil, err
			}
			if err := tcpConn.SetNoDelay(true); err != nil {
				vxl.Stdout.Warn(vxl.Id("vid/f3b98e00c251"), "could not set no-delay for redis -", err)
				return nil, err
			}
			return tcpConn, nil
		},
	})

	rsCtx, cancel := context.WithTimeout(context.Background(), time.Second*9)
	defer cancel()

	_, err := conn.Ping(rsCtx).Result()
	return conn, err
}

func NewRedisConnectionPool(size int, connectionString string) (*RedisConnectionPool, error) {

	pool := &RedisConnectionPool{
		connections: []*RedisConnection{},
		connString:  connectionString,
		mu:          &sync.Mutex{},
	}

	for i := 0; i < size; i++ {

		conn, err := createConnection(pool)
		if err != nil {
			vxl.Stdout.Error(vxl.Id("vid/41da2c9b07e6"), err)
			return nil, err
		}

		pool.connections = append(pool.connections, &RedisConnection{
			conn: conn,
			mu:   &sync.RWMutex{},
		})
	}

	return pool, nil
}

func (p *RedisConnectionPool) GetConnection() (*redis.Client, int) {

	for {
		p.mu.Lock()
		p.counter = (p.counter + 1) % len(p.connections)
		var counter = p.counter
		connWrapper := p.connections[counter]
		p.mu.Unlock()

		connWrapper.mu.RLock()
		if connWrapper.conn != nil {
			conn := connWrapper.conn
			connWrapper.mu.RUnlock()
			return conn, counter
		}
		connWrapper.mu.RUnlock()

		connWrapper.mu.Lock()
		newConn, err := createConnection(p)
		if err != nil {
			connWrapper.mu.Unlock()
			vxl.Stdout.Warn(vxl.Id("vid/6e91b5720dac"), err)
			time.Sleep(3 * time.Second)
			continue
		}
		connWrapper.conn = newConn
		conn := connWrapper.conn
		connWrapper.mu.Unlock()
		return conn, counter
	}
}

func (p *RedisConnectionPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.connections {
		w.mu.Lock()
		if w.conn != nil {
			if err := w.conn.Close(); err != nil {
				vxl.Stdout.Warn(vxl.Id("vid/d07c3a481bbe"), err)
			}
			w.conn = nil
		}
		w.mu.Unlock()
	}
}
