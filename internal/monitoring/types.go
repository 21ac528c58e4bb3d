// Package monitoring implements the read-only metrics service the
// assistant's tools call: host resource usage and the Docker container
// list. It contains the collectors, the HTTP service that exposes them,
// and the client the orchestrator uses to reach that service.
package monitoring

import "math"

// DiskUsage is the usage of one mounted filesystem.
type DiskUsage struct {
	Path        string  `json:"path"`
	TotalGB     float64 `json:"total_gb"`
	UsedGB      float64 `json:"used_gb"`
	FreeGB      float64 `json:"free_gb"`
	PercentUsed float64 `json:"percent_used"`
}

// SystemResources is the payload of GET /system/resources.
type SystemResources struct {
	CPUPercent    float64     `json:"cpu_percent"`
	MemoryTotalGB float64     `json:"memory_total_gb"`
	MemoryUsedGB  float64     `json:"memory_used_gb"`
	MemoryPercent float64     `json:"memory_percent"`
	Disk          []DiskUsage `json:"disk"`
	LoadAverage   [3]float64  `json:"load_average"`
}

// PortBinding is one host binding of a container port.
type PortBinding struct {
	HostIP   string `json:"host_ip"`
	HostPort string `json:"host_port"`
}

// Container is one entry of GET /containers. Ports maps "80/tcp" style
// keys to their host bindings; an exposed but unpublished port maps to
// null.
type Container struct {
	ID      string                   `json:"id"`
	Name    string                   `json:"name"`
	Image   string                   `json:"image"`
	Status  string                   `json:"status"`
	State   string                   `json:"state"`
	Created string                   `json:"created"`
	Ports   map[string][]PortBinding `json:"ports"`
}

const bytesPerGB = 1 << 30

// round2 rounds to two decimal places for human-friendly payloads.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func toGB(b uint64) float64 {
	return round2(float64(b) / bytesPerGB)
}
