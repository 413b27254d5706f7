package vxu

import (
	"fmt"
	"runtime"
	"strings"
)

func JoinList(strangs []string) string {
	var b = strings.Builder{}
	for _, v := range strangs {
		b.WriteString(strings.TrimSpace(v))
		b.WriteString(" ")
	}
	return strings.TrimSpace(b.String())
}

func JoinArgs(strangs ...string) string {
	return JoinList(strangs)
}

func IsWhitespace(b []byte) bool {
	for _, c := range b {
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			return false
		}
	}
	return true
}

// GetFilteredStacktrace returns the frames from within this repo only,
// so error logs are not dominated by runtime/library frames.
func GetFilteredStacktrace() []string {
	var out []string
	pc := make([]uintptr, 32)
	n := runtime.Callers(2, pc)
	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		if strings.Contains(frame.File, "voxcord") {
			out = append(out, fmt.Sprintf("%s:%d", frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return out
}
