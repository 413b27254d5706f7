package vox_cleanup

import (
	"os"
	"sync"

	vxl "github.com/voxcord/voxcord/src/common/voxlog"
)

var cleanUpFuncs = []func(*sync.WaitGroup){}
var once = sync.Once{}
var mu = sync.Mutex{}

func AddCleanupFunc(x func(*sync.WaitGroup)) {
	defer mu.Unlock()
	mu.Lock()
	cleanUpFuncs = append(cleanUpFuncs, x)
}

func RunCleanUpFuncs(err error) {

	vxl.Stdout.Warn(vxl.Id("vid/77f02b3e1c85"), "starting clean up funcs")

	if err != nil {
		vxl.Stdout.Warn(vxl.Id("vid/4b0cce81d217"), err)
	}

	mu.Lock() // force any concurrent registration to wait until we exit

	once.Do(func() {
		vxl.Stdout.Warn(vxl.Id("vid/e6d4f1b9a023"), "running clean up funcs")
		var wg sync.WaitGroup
		for i := len(cleanUpFuncs) - 1; i >= 0; i-- {
			// run in reverse registration order, like defer
			fnc := cleanUpFuncs[i]
			wg.Add(1)
			fnc(&wg)
		}
		wg.Wait()
		if err == nil {
			os.Exit(0)
		} else {
			os.Exit(1)
		}
	})
}
