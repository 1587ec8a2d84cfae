//go:build !linux

package sysutil

// PinToCoreIfSet is a no-op outside Linux; core pinning has no portable
// cross-platform syscall surface.
func PinToCoreIfSet(core int) error { return nil }

func PinToCoreWithOffset(base, offset int) error { return nil }

// SetRealtimePriorityIf is a no-op outside Linux.
func SetRealtimePriorityIf(enabled bool, priority int) error { return nil }

// LockAllMemoryIf is a no-op outside Linux.
func LockAllMemoryIf(enabled bool) error { return nil }

// IfaceNumaNode always reports unknown outside Linux.
func IfaceNumaNode(iface string) int { return -1 }

// NodeCPUList always reports unknown outside Linux.
func NodeCPUList(node int) string { return "" }

func CPUListContains(cpulist string, cpu int) bool { return false }
