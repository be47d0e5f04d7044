package proxy

// MaxPort is the top of the port space.
const MaxPort = 65535

// PortRange defines the usable port range for deployments.
type PortRange struct {
	Start int // Inclusive
	End   int // Inclusive
}

// DefaultPortRange returns the high range above the system ports (> 9000).
func DefaultPortRange() PortRange {
	return PortRange{Start: 9001, End: MaxPort}
}

// Clamp restricts the range to the valid port space.
func (r PortRange) Clamp() PortRange {
	if r.Start < 0 {
		r.Start = 0
	}
	if r.End > MaxPort || r.End == 0 {
		r.End = MaxPort
	}
	return r
}

// FreePorts returns the complement of used against the port range, in
// ascending order. The result is a snapshot: a port listed here can be taken
// by another process before it is bound.
func FreePorts(usedPorts []int, portRange PortRange) []int {
	portRange = portRange.Clamp()
	used := make(map[int]bool, len(usedPorts))
	for _, p := range usedPorts {
		used[p] = true
	}

	free := make([]int, 0)
	for port := portRange.Start; port <= portRange.End; port++ {
		if !used[port] {
			free = append(free, port)
		}
	}
	return free
}

// ValidatePort checks if a port is within the allowed range. A zero range
// end means the top of the port space.
func ValidatePort(port int, portRange PortRange) bool {
	portRange = portRange.Clamp()
	return port >= portRange.Start && port <= portRange.End
}
