// Package cgroup collects point-in-time resource-usage statistics from the
// Linux control-group pseudo filesystem: CPU time and throttling, memory
// accounting, live process counts, block I/O tables, and hugepage
// consumption.
//
// Overview
//
//   - StatsProvider interface:
//     Controller() Name
//     Collect(cgroupPath string, stats *Stats) error
//
//     One provider per controller. Collect parses the controller's files
//     under the given cgroup directory and fills the matching section of
//     Stats. Providers are pure functions of the path and the current
//     filesystem contents: read-only, stateless, safe to call concurrently
//     across paths. A provider either fills its section completely or
//     fails; it never leaves a partial section behind.
//
//   - Provider sets:
//     V1Providers() — legacy hierarchies (cpu,cpuacct / memory / pids /
//     blkio / hugetlb, each possibly mounted separately).
//     V2Providers() — the unified hierarchy, all controllers under one
//     directory.
//     ProvidersFor(version) picks the set for a detected version; hybrid
//     hosts use v2.
//
//   - Aggregation:
//     Collect(providers, resolve)    — fail-fast: first controller error
//     aborts the snapshot.
//     CollectAll(providers, resolve) — tolerant: failed controllers are
//     skipped and reported in one aggregated error, the partial snapshot
//     is still returned. Use this when e.g. hugetlb may be compiled out.
//
//     resolve maps a controller name to its cgroup directory; use
//     SinglePath for the unified hierarchy and MountLayout.Controllers to
//     build one for v1.
//
// # Error model
//
// Failures are either I/O errors (missing or unreadable file, directory
// enumeration failure) or *ParseError values carrying the file path and
// the raw value that did not parse. There are no retries and no implicit
// defaults, with one exception: a pids.max (or v2 memory.max) reading the
// literal "max" is the kernel's "no limit" convention, mapped to 0 for
// pids and MaxUint64 for memory limits.
//
// Missing-file tolerance is deliberately asymmetric and mirrors real
// kernel variation:
//   - pids files missing        → error
//   - a blkio/io table missing  → empty table, success
//   - hugetlb files for one size missing → that size omitted, success
//
// # Numbers
//
// Every numeric field is taken verbatim from kernel text, as an unsigned
// 64-bit integer. CPU time is nanoseconds (v2's microsecond counters are
// scaled by 1000). Memory limits keep the raw kernel value; an unlimited
// v1 cgroup reports a number near 2^63. Hugepage sizes are rendered as
// truncating monikers: 2048kB → "2MB", 1048576kB → "1GB".
package cgroup
