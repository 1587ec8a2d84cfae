//go:build linux

package sysutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// PinToCoreIfSet pins the calling OS thread to a single CPU core when
// core >= 0; a negative core is a no-op. Callers must have already
// locked the goroutine to its OS thread via runtime.LockOSThread.
func PinToCoreIfSet(core int) error {
	if core < 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}

// PinToCoreWithOffset pins to core+offset, wrapping modulo the number of
// online CPUs — used to spread same-role workers (e.g. RX-A and RX-B)
// across distinct cores without hardcoding topology.
func PinToCoreWithOffset(base, offset int) error {
	if base < 0 {
		return nil
	}
	n := unix.SchedGetaffinitySizeHint()
	if n <= 0 {
		n = 1
	}
	return PinToCoreIfSet((base + offset) % n)
}

// SetRealtimePriorityIf sets SCHED_FIFO at the given priority (1-99) on
// the calling thread when enabled; errors are non-fatal by convention —
// the caller logs and continues unprivileged.
func SetRealtimePriorityIf(enabled bool, priority int) error {
	if !enabled {
		return nil
	}
	return unix.SchedSetscheduler(0, unix.SCHED_FIFO, &unix.SchedParam{Priority: int32(priority)})
}

// LockAllMemoryIf calls mlockall(MCL_CURRENT|MCL_FUTURE) when enabled,
// preventing the process's pages from being swapped out.
func LockAllMemoryIf(enabled bool) error {
	if !enabled {
		return nil
	}
	return unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE)
}

// IfaceNumaNode returns the NUMA node a network interface's PCI device is
// attached to, read from sysfs. Returns -1 if unknown.
func IfaceNumaNode(iface string) int {
	b, err := os.ReadFile(fmt.Sprintf("/sys/class/net/%s/device/numa_node", iface))
	if err != nil {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return -1
	}
	return n
}

// NodeCPUList returns the CPU range string sysfs records for a NUMA node
// (e.g. "0-3,8,10-11"), or "" if unknown.
func NodeCPUList(node int) string {
	b, err := os.ReadFile(fmt.Sprintf("/sys/devices/system/node/node%d/cpulist", node))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// CPUListContains reports whether cpu appears in a sysfs-style cpulist
// such as "0-3,8,10-11".
func CPUListContains(cpulist string, cpu int) bool {
	for _, part := range strings.Split(cpulist, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err1 := strconv.Atoi(lo)
			b, err2 := strconv.Atoi(hi)
			if err1 == nil && err2 == nil && cpu >= a && cpu <= b {
				return true
			}
			continue
		}
		if v, err := strconv.Atoi(part); err == nil && v == cpu {
			return true
		}
	}
	return false
}
