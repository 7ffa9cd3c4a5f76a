package hw

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/opencpm/pcmd/internal/hwerr"
)

// PhysicalPackageID reads the socket id of a CPU from sysfs, per spec.md §6.
func PhysicalPackageID(cpu int) (int, error) {
	path := fmt.Sprintf("/sys/devices/system/cpu/cpu%d/topology/physical_package_id", cpu)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, hwerr.Io(path, err)
	}
	id, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, hwerr.Parse(path, err)
	}
	return id, nil
}

// OnlineCPUs parses /sys/devices/system/cpu/online's range-list syntax
// ("0-3,8-11") into a sorted slice of CPU ids.
func OnlineCPUs() ([]int, error) {
	const path = "/sys/devices/system/cpu/online"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, hwerr.Io(path, err)
	}
	return parseCPURangeList(strings.TrimSpace(string(data)))
}

func parseCPURangeList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			lo, err := strconv.Atoi(part[:dash])
			if err != nil {
				return nil, hwerr.Parse(part, err)
			}
			hi, err := strconv.Atoi(part[dash+1:])
			if err != nil {
				return nil, hwerr.Parse(part, err)
			}
			for cpu := lo; cpu <= hi; cpu++ {
				out = append(out, cpu)
			}
		} else {
			cpu, err := strconv.Atoi(part)
			if err != nil {
				return nil, hwerr.Parse(part, err)
			}
			out = append(out, cpu)
		}
	}
	return out, nil
}

// CPUsBySocket groups the machine's online CPUs by physical package id.
func CPUsBySocket() (map[int][]int, error) {
	cpus, err := OnlineCPUs()
	if err != nil {
		return nil, err
	}
	bySocket := make(map[int][]int)
	for _, cpu := range cpus {
		socket, err := PhysicalPackageID(cpu)
		if err != nil {
			return nil, err
		}
		bySocket[socket] = append(bySocket[socket], cpu)
	}
	return bySocket, nil
}
