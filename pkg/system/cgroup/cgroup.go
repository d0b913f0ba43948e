//go:build linux

package cgroup

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const procMountinfo = "/proc/self/mountinfo"

type Version int

const (
	Unsupported Version = iota // non-Linux or no cgroup mounts
	V1                         // legacy multi-hierarchy cgroup v1
	V2                         // unified cgroup v2
	Hybrid                     // both v1 and v2 present
)

func (v Version) String() string {
	switch v {
	case V1:
		return "cgroup v1"
	case V2:
		return "cgroup v2"
	case Hybrid:
		return "cgroup hybrid"
	default:
		return "unsupported"
	}
}

// MountLayout describes where the host's cgroup hierarchies are mounted.
// Unified is the cgroup2 mount point, empty when only v1 is present.
// Controllers maps each v1 controller to the mount point of the hierarchy
// carrying it (a co-mounted "cpu,cpuacct" hierarchy appears under both
// names).
type MountLayout struct {
	Unified     string
	Controllers map[Name]string
}

// Version derives the hierarchy version from the observed mounts.
func (m *MountLayout) Version() Version {
	switch {
	case m.Unified != "" && len(m.Controllers) > 0:
		return Hybrid
	case m.Unified != "":
		return V2
	case len(m.Controllers) > 0:
		return V1
	default:
		return Unsupported
	}
}

// Mounts parses /proc/self/mountinfo and reports the cgroup mount layout.
func Mounts() (*MountLayout, error) {
	f, err := os.Open(procMountinfo)
	if err != nil {
		return nil, errors.Wrap(err, "open mountinfo")
	}
	defer f.Close()
	return parseMounts(f)
}

// parseMounts scans mountinfo lines. Each line reads
// "<fields> <mountpoint> <fields> - <fstype> <source> <superopts>"; the
// mount point is field 5 and, for cgroup v1 mounts, the super options list
// the controllers bound to that hierarchy.
// Ref: man 5 proc.
func parseMounts(r io.Reader) (*MountLayout, error) {
	layout := &MountLayout{Controllers: make(map[Name]string)}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		sep := " - "
		i := strings.LastIndex(line, sep)
		if i < 0 {
			continue
		}
		pre := strings.Fields(line[:i])
		if len(pre) < 5 {
			continue
		}
		mountPoint := pre[4]

		tail := strings.Fields(line[i+len(sep):])
		if len(tail) < 3 {
			continue
		}
		fstype, superOpts := tail[0], tail[2]

		switch fstype {
		case "cgroup2":
			layout.Unified = mountPoint
		case "cgroup":
			for _, opt := range strings.Split(superOpts, ",") {
				switch Name(opt) {
				case CPU, Memory, Pids, Blkio, Hugetlb:
					layout.Controllers[Name(opt)] = mountPoint
				case "cpuacct":
					// cpuacct is usually co-mounted with cpu; the CPU
					// provider reads cpuacct files, so either option
					// locates the right hierarchy.
					layout.Controllers[CPU] = mountPoint
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scan mountinfo")
	}
	return layout, nil
}

// Detect returns the detected cgroup version and a human-readable detail
// string.
func Detect() (Version, string, error) {
	layout, err := Mounts()
	if err != nil {
		return Unsupported, "", err
	}

	var details []string
	if layout.Unified != "" {
		details = append(details, "cgroup2 on "+layout.Unified)
	}
	if len(layout.Controllers) > 0 {
		seen := make(map[string]bool)
		for _, mp := range layout.Controllers {
			if !seen[mp] {
				seen[mp] = true
				details = append(details, "cgroup v1 on "+mp)
			}
		}
	}
	if len(details) == 0 {
		return Unsupported, "no cgroup mounts found", nil
	}
	return layout.Version(), strings.Join(details, "; "), nil
}

// MustDetect is a convenience that panics on error.
func MustDetect() Version {
	v, _, err := Detect()
	if err != nil {
		panic(err)
	}
	return v
}
