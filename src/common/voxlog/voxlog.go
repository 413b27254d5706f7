package vxl

import (
	"os"

	ll "github.com/oresoftware/json-logging/jlog/level"
	jlog "github.com/oresoftware/json-logging/jlog/lib"
)

var getLogLevel = func() ll.LogLevel {
	switch os.Getenv("vox_log_level") {
	case "trace":
		return ll.TRACE
	case "debug":
		return ll.DEBUG
	case "info":
		return ll.INFO
	case "error":
		return ll.ERROR
	default:
		return ll.WARN
	}
}

func getHostName() string {
	var hn, _ = os.Hostname()
	if hn == "" {
		hn = "<unknown>"
	}
	return hn
}

var Stdout = jlog.CreateLogger("Voxcord:RT").
	SetLogLevel(getLogLevel()).
	SetHighPerf(true).
	SetEnvPrefix("vox_log_").
	SetOutputFile(os.Stdout).
	AddMetaField("host_name", getHostName())

var Stderr = jlog.CreateLogger("Voxcord:RT/Stderr").
	SetLogLevel(ll.WARN).
	SetHighPerf(true).
	SetEnvPrefix("vox_log_").
	SetOutputFile(os.Stderr).
	AddMetaField("host_name", getHostName())

var Id = jlog.Id
