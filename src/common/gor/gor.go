package gor

import (
	"runtime"
	"sync"
	"time"

	vhp "github.com/voxcord/voxcord/src/common/handle-panic"
	vxl "github.com/voxcord/voxcord/src/common/voxlog"
)

// GorInfo tracks one long-lived goroutine so that stalled loops show up in
// logs instead of silently pinning memory.
type GorInfo struct {
	mtx        *sync.Mutex
	LastActive time.Time
	StartFile  string
	StartLine  int
	MetaInfo   interface{}
}

var goroutinesMap = make(map[*GorInfo]*GorInfo)
var mtx = sync.Mutex{}
var watchdogOnce = sync.Once{}

type LastActiveInfo struct {
	Info string
}

type Updater interface {
	UpdateLastActive(time.Time, LastActiveInfo)
}

func (g *GorInfo) UpdateLastActive(t time.Time, info LastActiveInfo) {
	defer g.mtx.Unlock()
	g.mtx.Lock()
	g.LastActive = t
	g.MetaInfo = info
}

func startWatchdog() {
	go func() {
		for {
			time.Sleep(time.Second * 45)
			mtx.Lock()
			for _, inf := range goroutinesMap {
				inf.mtx.Lock()
				if time.Now().Sub(inf.LastActive) > 10*time.Minute {
					vxl.Stdout.Debug(vxl.Id("vid/1d4a9f08c3b7"), "inactive goroutine:", inf.StartFile, inf.StartLine, inf.MetaInfo)
				}
				inf.mtx.Unlock()
			}
			mtx.Unlock()
		}
	}()
}

// Gor runs f on a new goroutine with panic recovery and liveness tracking.
func Gor(f func(z Updater)) {

	watchdogOnce.Do(startWatchdog)

	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "unknown"
		line = -1
	}

	info := &GorInfo{
		mtx:        &sync.Mutex{},
		LastActive: time.Now(),
		StartFile:  file,
		StartLine:  line,
	}

	mtx.Lock()
	goroutinesMap[info] = info
	mtx.Unlock()

	go func() {

		defer func() {
			if r := vhp.HandlePanic("e8b22d5f90c1"); r != nil {
				vxl.Stdout.Error(vxl.Id("vid/ce07814ab6f5"), r)
			}
		}()

		defer func() {
			mtx.Lock()
			delete(goroutinesMap, info)
			mtx.Unlock()
		}()

		f(info)
	}()
}

// Count reports the number of tracked goroutines still running.
func Count() int {
	mtx.Lock()
	defer mtx.Unlock()
	return len(goroutinesMap)
}
