package cgroup

import "fmt"

// Stats is a point-in-time snapshot of one cgroup's resource usage,
// aggregated over all collected controllers. The zero value is a valid
// empty snapshot; maps are allocated lazily by the providers.
type Stats struct {
	CPU     CPUStats                `json:"cpu"`
	Pids    PidsStats               `json:"pids"`
	Hugetlb map[string]HugetlbStats `json:"hugetlb,omitempty"`
	Blkio   BlkioStats              `json:"blkio"`
	Memory  MemoryStats             `json:"memory"`
}

// CPUStats reports CPU time consumption and bandwidth throttling.
type CPUStats struct {
	Usage      CPUUsage      `json:"usage"`
	Throttling CPUThrottling `json:"throttling"`
}

// CPUUsage holds cumulative CPU time in nanoseconds. The per-core slices
// are parallel: index i of each refers to the same CPU, in ascending CPU
// index order. On the unified hierarchy the kernel exposes no per-core
// breakdown and the slices stay empty.
type CPUUsage struct {
	Total  uint64 `json:"total"`
	User   uint64 `json:"user"`
	Kernel uint64 `json:"kernel"`

	PerCoreTotal  []uint64 `json:"per_core_total,omitempty"`
	PerCoreUser   []uint64 `json:"per_core_user,omitempty"`
	PerCoreKernel []uint64 `json:"per_core_kernel,omitempty"`
}

// CPUThrottling reports CFS bandwidth throttling counters.
type CPUThrottling struct {
	// Periods is the number of elapsed enforcement intervals.
	Periods uint64 `json:"periods"`
	// ThrottledPeriods is the number of intervals in which the group ran
	// out of quota and was throttled.
	ThrottledPeriods uint64 `json:"throttled_periods"`
	// ThrottledTime is the cumulative time the group spent throttled, in
	// nanoseconds.
	ThrottledTime uint64 `json:"throttled_time"`
}

// MemoryStats reports memory accounting for a cgroup.
type MemoryStats struct {
	// Memory is plain memory usage.
	Memory MemoryData `json:"memory"`
	// Memswap is combined memory+swap usage.
	Memswap MemoryData `json:"memswap"`
	// Kernel is kernel memory usage (v1 only; zero on v2).
	Kernel MemoryData `json:"kernel"`
	// KernelTCP is kernel TCP buffer usage (v1 only; zero on v2).
	KernelTCP MemoryData `json:"kernel_tcp"`
	// Cache is page cache usage in bytes.
	Cache uint64 `json:"cache"`
	// Hierarchy reports whether hierarchical accounting is enabled.
	Hierarchy bool `json:"hierarchy"`
	// Stats holds the counters of the memory stat file, keys verbatim as
	// reported by the kernel.
	Stats map[string]uint64 `json:"stats,omitempty"`
}

// MemoryData is one class of memory accounting (plain, +swap, kernel, tcp).
// Limit carries the raw kernel value: an effectively unlimited cgroup
// reports a very large number (v1) which is preserved, not normalized.
type MemoryData struct {
	Usage     uint64 `json:"usage"`
	MaxUsage  uint64 `json:"max_usage"`
	FailCount uint64 `json:"fail_count"`
	Limit     uint64 `json:"limit"`
}

// PidsStats reports process counts for a cgroup.
type PidsStats struct {
	// Current is the number of live processes in the cgroup.
	Current uint64 `json:"current"`
	// Limit is the configured maximum. 0 means no limit; note this
	// collides with a genuine zero-process limit, which the kernel's
	// textual "max" convention makes unrepresentable here.
	Limit uint64 `json:"limit"`
}

// BlkioStats reports block I/O statistics, one table per stat kind.
// A kind not exposed by the running kernel yields an empty table.
type BlkioStats struct {
	// ServiceBytes is the number of bytes transferred to/from a device.
	ServiceBytes []BlkioEntry `json:"service_bytes,omitempty"`
	// Serviced is the number of I/O operations performed on a device.
	Serviced []BlkioEntry `json:"serviced,omitempty"`
	// Time is the disk time allocated to the cgroup per device.
	Time []BlkioEntry `json:"time,omitempty"`
	// Sectors is the number of sectors transferred to/from a device.
	Sectors []BlkioEntry `json:"sectors,omitempty"`
	// ServiceTime is the total time between request dispatch and completion.
	ServiceTime []BlkioEntry `json:"service_time,omitempty"`
	// WaitTime is the total time spent waiting in the scheduler queues.
	WaitTime []BlkioEntry `json:"wait_time,omitempty"`
	// Queued is the number of requests queued for I/O.
	Queued []BlkioEntry `json:"queued,omitempty"`
	// Merged is the number of bio requests merged into I/O requests.
	Merged []BlkioEntry `json:"merged,omitempty"`
}

// BlkioEntry is a single per-device value. Op is the operation type
// ("Read", "Write", ...) for itemized rows and empty for aggregate rows.
type BlkioEntry struct {
	Major uint64 `json:"major"`
	Minor uint64 `json:"minor"`
	Op    string `json:"op,omitempty"`
	Value uint64 `json:"value"`
}

// String renders the entry in the kernel's own table format:
// "major:minor op value", the op column omitted for aggregate rows.
func (e BlkioEntry) String() string {
	if e.Op != "" {
		return fmt.Sprintf("%d:%d %s %d", e.Major, e.Minor, e.Op, e.Value)
	}
	return fmt.Sprintf("%d:%d %d", e.Major, e.Minor, e.Value)
}

// HugetlbStats reports hugepage consumption for one page size. Instances
// are keyed in Stats.Hugetlb by size moniker ("2MB", "1GB", ...).
type HugetlbStats struct {
	Usage     uint64 `json:"usage"`
	MaxUsage  uint64 `json:"max_usage"`
	FailCount uint64 `json:"fail_count"`
}
