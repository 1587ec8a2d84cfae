package sysutil

import "runtime"

func yieldOnce() { runtime.Gosched() }
