//go:build linux

package cgroup

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// v2CPU reads cpu.stat on the unified hierarchy. The kernel reports
// microseconds there; values are scaled to nanoseconds so CPUUsage keeps
// one unit across hierarchy versions. v2 exposes no per-core breakdown, so
// the per-core slices stay empty.
type v2CPU struct{}

func (v2CPU) Controller() Name { return CPU }

func (v2CPU) Collect(path string, stats *Stats) error {
	kv, err := parseFlatKeyedFile(filepath.Join(path, "cpu.stat"))
	if err != nil {
		return err
	}
	stats.CPU = CPUStats{
		Usage: CPUUsage{
			Total:  kv["usage_usec"] * 1000,
			User:   kv["user_usec"] * 1000,
			Kernel: kv["system_usec"] * 1000,
		},
		Throttling: CPUThrottling{
			Periods:          kv["nr_periods"],
			ThrottledPeriods: kv["nr_throttled"],
			ThrottledTime:    kv["throttled_usec"] * 1000,
		},
	}
	return nil
}

// v2Memory reads the unified memory interface. Kernel and kernel-tcp
// accounting is not broken out on v2, so those quartets stay zero.
// Hierarchical accounting is always on.
type v2Memory struct{}

func (v2Memory) Controller() Name { return Memory }

func (v2Memory) Collect(path string, stats *Stats) error {
	out := MemoryStats{Hierarchy: true}
	var err error

	if out.Memory, err = v2MemoryData(path, "memory", true); err != nil {
		return err
	}
	// Swap accounting may be compiled out or disabled; absent files leave
	// the quartet zero.
	if out.Memswap, err = v2MemoryData(path, "memory.swap", false); err != nil {
		return err
	}

	if out.Stats, err = parseFlatKeyedFile(filepath.Join(path, "memory.stat")); err != nil {
		return err
	}
	// v2 counts the page cache under "file".
	out.Cache = out.Stats["file"]

	stats.Memory = out
	return nil
}

// v2MemoryData reads <prefix>.current, <prefix>.peak, <prefix>.max and the
// "max" counter of <prefix>.events. The textual "max" limit is normalized
// to MaxUint64 so both hierarchy versions expose "huge number means
// unlimited". peak is tolerated missing on kernels that predate it.
func v2MemoryData(path, prefix string, required bool) (MemoryData, error) {
	var d MemoryData

	usage, err := ParseSingleValue(filepath.Join(path, prefix+".current"))
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return MemoryData{}, nil
		}
		return d, err
	}
	d.Usage = usage

	if d.MaxUsage, err = ParseSingleValue(filepath.Join(path, prefix+".peak")); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return d, err
		}
		d.MaxUsage = 0
	}

	maxPath := filepath.Join(path, prefix+".max")
	content, err := readCgroupFile(maxPath)
	if err != nil {
		return d, err
	}
	if trimmed := strings.TrimSpace(content); trimmed == unlimited {
		d.Limit = math.MaxUint64
	} else {
		if d.Limit, err = strconv.ParseUint(trimmed, 10, 64); err != nil {
			return d, &ParseError{Path: maxPath, Raw: content, Err: err}
		}
	}

	events, err := parseFlatKeyedFile(filepath.Join(path, prefix+".events"))
	if err != nil {
		return d, err
	}
	d.FailCount = events["max"]

	return d, nil
}

// v2Pids reads the pids controller, whose interface files are unchanged
// from v1.
type v2Pids struct{}

func (v2Pids) Controller() Name { return Pids }

func (v2Pids) Collect(path string, stats *Stats) error {
	out, err := parsePids(path)
	if err != nil {
		return err
	}
	stats.Pids = out
	return nil
}

// v2IO reads io.stat and maps its read/write byte and operation counters
// onto the blkio tables. io.stat is absent when the io controller is not
// enabled for the cgroup; that yields empty tables, matching the v1
// per-file tolerance.
type v2IO struct{}

func (v2IO) Controller() Name { return IO }

func (v2IO) Collect(path string, stats *Stats) error {
	entries, err := parseV2IOStat(filepath.Join(path, "io.stat"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			stats.Blkio = BlkioStats{}
			return nil
		}
		return err
	}
	stats.Blkio = entries
	return nil
}

// parseV2IOStat reads "MAJ:MIN key=value ..." rows and itemizes rbytes/
// wbytes into ServiceBytes and rios/wios into Serviced.
func parseV2IOStat(path string) (BlkioStats, error) {
	var out BlkioStats
	content, err := readCgroupFile(path)
	if err != nil {
		return out, err
	}

	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		majorText, minorText, ok := strings.Cut(fields[0], ":")
		if !ok {
			return out, &ParseError{Path: path, Raw: line, Err: ErrMalformedLine}
		}
		major, err := strconv.ParseUint(majorText, 10, 64)
		if err != nil {
			return out, &ParseError{Path: path, Raw: line, Err: err}
		}
		minor, err := strconv.ParseUint(minorText, 10, 64)
		if err != nil {
			return out, &ParseError{Path: path, Raw: line, Err: err}
		}

		for _, kv := range fields[1:] {
			key, valueText, ok := strings.Cut(kv, "=")
			if !ok {
				return out, &ParseError{Path: path, Raw: line, Err: ErrMalformedLine}
			}
			value, err := strconv.ParseUint(valueText, 10, 64)
			if err != nil {
				return out, &ParseError{Path: path, Raw: line, Err: err}
			}

			entry := BlkioEntry{Major: major, Minor: minor, Value: value}
			switch key {
			case "rbytes":
				entry.Op = "Read"
				out.ServiceBytes = append(out.ServiceBytes, entry)
			case "wbytes":
				entry.Op = "Write"
				out.ServiceBytes = append(out.ServiceBytes, entry)
			case "rios":
				entry.Op = "Read"
				out.Serviced = append(out.Serviced, entry)
			case "wios":
				entry.Op = "Write"
				out.Serviced = append(out.Serviced, entry)
			}
		}
	}
	return out, nil
}

// v2Hugetlb reads hugetlb.<size>.current plus the "max" counter of
// hugetlb.<size>.events per supported page size. v2 tracks no historical
// peak for hugetlb, so MaxUsage stays zero. A size whose files are absent
// is omitted, as on v1.
type v2Hugetlb struct {
	pageSizes func() ([]string, error)
}

func (v2Hugetlb) Controller() Name { return Hugetlb }

func (h v2Hugetlb) Collect(path string, stats *Stats) error {
	sizes, err := h.pageSizes()
	if err != nil {
		return err
	}

	out := make(map[string]HugetlbStats)
	for _, size := range sizes {
		st, err := v2HugetlbStats(path, size)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		out[size] = st
	}
	stats.Hugetlb = out
	return nil
}

func v2HugetlbStats(path, size string) (HugetlbStats, error) {
	var st HugetlbStats
	var err error
	if st.Usage, err = ParseSingleValue(filepath.Join(path, "hugetlb."+size+".current")); err != nil {
		return st, err
	}
	events, err := parseFlatKeyedFile(filepath.Join(path, "hugetlb."+size+".events"))
	if err != nil {
		return st, err
	}
	st.FailCount = events["max"]
	return st, nil
}
