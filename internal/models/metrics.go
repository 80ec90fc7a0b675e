package models

type HostMetrics struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
	Hostname    string  `json:"hostname"`
	OS          string  `json:"os"`
	Uptime      uint64  `json:"uptime"`
}

type HealthCheck struct {
	Status      string      `json:"sys_status"`
	Uptime      int64       `json:"uptime"`
	Mode        string      `json:"mode"`
	Subscribers int         `json:"subscribers"`
	Relay       any         `json:"relay"`
	Host        HostMetrics `json:"host_metrics"`
}
