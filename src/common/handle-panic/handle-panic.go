package vhp

import (
	vapm "github.com/voxcord/voxcord/src/common/apm"
	vxl "github.com/voxcord/voxcord/src/common/voxlog"
)

func HandlePanic(id string) interface{} {
	if r := recover(); r != nil {
		vxl.Stdout.Error(vxl.Id("vid/60f3aa18d2bc"), id, r)
		vapm.SendTrace(id, r)
		return r
	}
	return nil
}

func HandlePanicWithConnId(id string, connId string) interface{} {
	if r := recover(); r != nil {
		vxl.Stdout.Error(vxl.Id("vid/9cf21e0b447a"), id, "conn:", connId, r)
		vapm.SendTrace(id, "conn:", connId, r)
		return r
	}
	return nil
}
