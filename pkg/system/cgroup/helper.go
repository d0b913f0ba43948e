//go:build linux

package cgroup

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// hugepagesDir is a fixed kernel interface, not configurable.
const hugepagesDir = "/sys/kernel/mm/hugepages"

// readCgroupFile returns the full contents of a cgroup pseudo-file.
// Failures are I/O errors; the wrapped os error carries the path.
func readCgroupFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "read cgroup file")
	}
	return string(b), nil
}

// ParseSingleValue reads a cgroup file holding one unsigned integer.
func ParseSingleValue(path string) (uint64, error) {
	content, err := readCgroupFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(content), 10, 64)
	if err != nil {
		return 0, &ParseError{Path: path, Raw: content, Err: err}
	}
	return v, nil
}

// parseFlatKeyedFile reads a "key value" per line cgroup file (memory.stat,
// cpu.stat, ...) into a map. Keys are kept verbatim as reported.
func parseFlatKeyedFile(path string) (map[string]uint64, error) {
	content, err := readCgroupFile(path)
	if err != nil {
		return nil, err
	}
	kv := make(map[string]uint64)
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, &ParseError{Path: path, Raw: line, Err: ErrMalformedLine}
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, &ParseError{Path: path, Raw: line, Err: err}
		}
		kv[fields[0]] = v
	}
	return kv, nil
}

// SupportedPageSizes enumerates /sys/kernel/mm/hugepages and returns the
// size moniker of every hugepage size the kernel supports, in directory
// listing order. An unreadable directory (hugepage support disabled)
// surfaces as an I/O error; translating that to "no sizes" is up to the
// caller.
func SupportedPageSizes() ([]string, error) {
	return supportedPageSizesIn(hugepagesDir)
}

func supportedPageSizesIn(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, errors.Wrap(err, "enumerate hugepage sizes")
	}
	defer f.Close()

	// f.ReadDir keeps the kernel's listing order, unlike os.ReadDir.
	dirents, err := f.ReadDir(-1)
	if err != nil {
		return nil, errors.Wrap(err, "enumerate hugepage sizes")
	}

	var sizes []string
	for _, ent := range dirents {
		if !ent.IsDir() {
			continue
		}
		rest, ok := strings.CutPrefix(ent.Name(), "hugepages-")
		if !ok {
			continue
		}
		kbText, ok := strings.CutSuffix(rest, "kB")
		if !ok {
			continue
		}
		kb, err := strconv.ParseUint(kbText, 10, 64)
		if err != nil {
			return nil, &ParseError{Path: dir, Raw: ent.Name(), Err: err}
		}
		sizes = append(sizes, sizeMoniker(kb))
	}
	return sizes, nil
}

// sizeMoniker renders a kilobyte count as the label hugetlb files use:
// whole gigabytes, else whole megabytes, else kilobytes, truncating.
func sizeMoniker(kb uint64) string {
	switch {
	case kb >= 1<<20:
		return strconv.FormatUint(kb>>20, 10) + "GB"
	case kb >= 1<<10:
		return strconv.FormatUint(kb>>10, 10) + "MB"
	default:
		return strconv.FormatUint(kb, 10) + "KB"
	}
}
