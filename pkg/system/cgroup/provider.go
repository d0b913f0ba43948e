//go:build linux

package cgroup

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Name identifies a cgroup controller.
type Name string

const (
	CPU     Name = "cpu"
	Memory  Name = "memory"
	Pids    Name = "pids"
	Blkio   Name = "blkio"
	Hugetlb Name = "hugetlb"
	// IO is the unified-hierarchy replacement for blkio. Its provider
	// fills Stats.Blkio.
	IO Name = "io"
)

// StatsProvider reads one controller's statistics from a cgroup directory.
// Implementations are read-only and stateless: concurrent Collect calls
// are safe without coordination.
type StatsProvider interface {
	// Controller names the controller this provider reads.
	Controller() Name
	// Collect parses the controller's files under the given cgroup
	// directory and, on success, writes the result into stats. On error
	// stats is left untouched; there are no partial sections.
	Collect(cgroupPath string, stats *Stats) error
}

// V1Providers returns the provider set for the legacy (v1) hierarchies.
func V1Providers() []StatsProvider {
	return []StatsProvider{
		v1CPU{},
		v1Memory{},
		v1Pids{},
		v1Blkio{},
		v1Hugetlb{pageSizes: SupportedPageSizes},
	}
}

// V2Providers returns the provider set for the unified (v2) hierarchy.
func V2Providers() []StatsProvider {
	return []StatsProvider{
		v2CPU{},
		v2Memory{},
		v2Pids{},
		v2IO{},
		v2Hugetlb{pageSizes: SupportedPageSizes},
	}
}

// ProvidersFor returns the provider set matching a detected hierarchy
// version. Hybrid hosts use the unified hierarchy, which is where modern
// kernels do resource accounting.
func ProvidersFor(v Version) ([]StatsProvider, error) {
	switch v {
	case V1:
		return V1Providers(), nil
	case V2, Hybrid:
		return V2Providers(), nil
	default:
		return nil, ErrUnsupported
	}
}

// SinglePath resolves every controller to the same directory. This is the
// normal case on the unified hierarchy, where all controllers share one
// mount.
func SinglePath(path string) func(Name) string {
	return func(Name) string { return path }
}

// Collect runs every provider against its resolved cgroup directory and
// returns the aggregate snapshot. The first controller failure aborts the
// whole collection.
func Collect(providers []StatsProvider, resolve func(Name) string) (*Stats, error) {
	stats := &Stats{}
	for _, p := range providers {
		if err := p.Collect(resolve(p.Controller()), stats); err != nil {
			return nil, errors.Wrapf(err, "collect %s stats", p.Controller())
		}
	}
	return stats, nil
}

// CollectAll runs every provider and skips controllers that fail, for
// callers that prefer a partial snapshot over no snapshot (a kernel
// without hugetlb support, say). The returned snapshot is always usable;
// the error, when non-nil, aggregates one entry per skipped controller.
func CollectAll(providers []StatsProvider, resolve func(Name) string) (*Stats, error) {
	stats := &Stats{}
	var errs *multierror.Error
	for _, p := range providers {
		if err := p.Collect(resolve(p.Controller()), stats); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "collect %s stats", p.Controller()))
		}
	}
	return stats, errs.ErrorOrNil()
}
