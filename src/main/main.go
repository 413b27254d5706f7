package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	vox_cleanup "github.com/voxcord/voxcord/src/common/cleanup"
	"github.com/voxcord/voxcord/src/common/gor"
	vox_mongo "github.com/voxcord/voxcord/src/common/mongo"
	vox_redis "github.com/voxcord/voxcord/src/common/redis"
	vxl "github.com/voxcord/voxcord/src/common/voxlog"
	vxcf "github.com/voxcord/voxcord/src/config"
	v1_routes_health "github.com/voxcord/voxcord/src/rest/routes/v1/health"
	v1_routes_meta "github.com/voxcord/voxcord/src/rest/routes/v1/meta"
	vox_ws "github.com/voxcord/voxcord/src/ws"
	vcall "github.com/voxcord/voxcord/src/ws/calls"
	vprs "github.com/voxcord/voxcord/src/ws/presence"
	vreg "github.com/voxcord/voxcord/src/ws/registry"
	vsig "github.com/voxcord/voxcord/src/ws/signal"
	vtop "github.com/voxcord/voxcord/src/ws/topics"
)

func main() {

	cfg := vxcf.GetConf()

	// durable tier -- the realtime core keeps running without it, channel
	// publishes just fail loudly and presence loses its friend fan-out
	var m *vox_mongo.M
	{
		ctx, cancel := context.WithTimeout(context.Background(), 9*time.Second)
		var err error
		m, err = vox_mongo.Connect(ctx, cfg.MONGO_DB_FULL_URL, cfg.MONGO_DB_NAME)
		cancel()
		if err != nil {
			vxl.Stdout.Warn(vxl.Id("vid/e02c78d4b1f5"), "mongo unavailable, continuing without durable store:", err)
			m = nil
		}
	}

	var mirror *vox_redis.PresenceMirror
	if pool, err := vox_redis.NewRedisConnectionPool(2, cfg.REDIS_ADDRESS); err != nil {
		vxl.Stdout.Warn(vxl.Id("vid/b8f30a92c5d1"), "redis unavailable, continuing without presence mirror:", err)
	} else {
		mirror = vox_redis.NewPresenceMirror(pool, cfg.PresenceMirrorTTL())
		vox_cleanup.AddCleanupFunc(func(wg *sync.WaitGroup) {
			go func() {
				defer wg.Done()
				pool.Close()
			}()
		})
	}

	reg := vreg.NewRegistry()
	topics := vtop.NewRouter()
	calls := vcall.NewMachine(reg, cfg.CallRingTimeout(), cfg.CallSessionGrace())
	signals := vsig.NewRelay(reg)

	// the service doubles as the tracker's inbox publisher, so the tracker
	// is attached after construction
	var graph vprs.SocialGraph
	var mirrorDep vprs.Mirror
	var store vox_ws.Store
	if m != nil {
		graph = m
		store = m
	}
	if mirror != nil {
		mirrorDep = mirror
	}

	svc := vox_ws.NewService(cfg, reg, topics, nil, calls, signals, store)
	presence := vprs.NewTracker(cfg.PresenceDebounce(), reg, graph, mirrorDep, svc)
	svc.Presence = presence

	gor.Gor(func(z gor.Updater) {
		z.UpdateLastActive(time.Now(), gor.LastActiveInfo{Info: "call session janitor"})
		calls.Run()
	})

	wssRouter := mux.NewRouter()
	wssRouter.HandleFunc("/ws", svc.HandleWS)

	apiRouter := mux.NewRouter()
	v1_routes_health.Mount(apiRouter)
	v1_routes_meta.Mount(apiRouter, &v1_routes_meta.Deps{
		Reg:      reg,
		Topics:   topics,
		Presence: presence,
		Calls:    calls,
	})

	wssServer := &http.Server{
		Addr:    cfg.API_WSS_ADDRESS,
		Handler: wssRouter,
	}
	apiServer := &http.Server{
		Addr:    cfg.API_SERVER_ADDRESS,
		Handler: apiRouter,
	}

	vox_cleanup.AddCleanupFunc(func(wg *sync.WaitGroup) {
		go func() {
			defer wg.Done()
			calls.Stop()
			presence.Stop()
		}()
	})

	vox_cleanup.AddCleanupFunc(func(wg *sync.WaitGroup) {
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
			defer cancel()
			if err := wssServer.Shutdown(ctx); err != nil {
				vxl.Stdout.Warn(vxl.Id("vid/02d9c5e7a1f8"), "wss server shutdown:", err)
			}
			if err := apiServer.Shutdown(ctx); err != nil {
				vxl.Stdout.Warn(vxl.Id("vid/7f4b1e09c3d2"), "api server shutdown:", err)
			}
		}()
	})

	if m != nil {
		vox_cleanup.AddCleanupFunc(func(wg *sync.WaitGroup) {
			go func() {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
				defer cancel()
				if err := m.Disconnect(ctx); err != nil {
					vxl.Stdout.Warn(vxl.Id("vid/c5a8e03d92f1"), "mongo disconnect:", err)
				}
			}()
		})
	}

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigs
		vxl.Stdout.Warn(vxl.Id("vid/a193f7c0e58d"), "caught signal, shutting down:", sig.String())
		vox_cleanup.RunCleanUpFuncs(nil)
	}()

	gor.Gor(func(z gor.Updater) {
		z.UpdateLastActive(time.Now(), gor.LastActiveInfo{Info: "api http server"})
		vxl.Stdout.Info(vxl.Id("vid/d6e209f5c3ab"), "api server listening on:", cfg.API_SERVER_ADDRESS)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			vox_cleanup.RunCleanUpFuncs(err)
		}
	})

	vxl.Stdout.Info(vxl.Id("vid/48c7d1a0e9b5"), "wss server listening on:", cfg.API_WSS_ADDRESS)
	if err := wssServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		vox_cleanup.RunCleanUpFuncs(err)
	}

	// keep the process alive while cleanup hooks run
	select {}
}
