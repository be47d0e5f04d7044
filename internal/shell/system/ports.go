package system

import (
	"bufio"
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/proxy"
)

// PortProbe reads the host's bound ports.
type PortProbe struct {
	runner    Runner
	portRange proxy.PortRange
}

// NewPortProbe creates a probe. A zero range means proxy.DefaultPortRange.
func NewPortProbe(runner Runner, portRange proxy.PortRange) *PortProbe {
	if portRange.Start == 0 && portRange.End == 0 {
		portRange = proxy.DefaultPortRange()
	}
	return &PortProbe{runner: runner, portRange: portRange}
}

// UsedPorts lists the TCP and UDP ports currently bound on the host.
func (p *PortProbe) UsedPorts(ctx context.Context) ([]int, error) {
	cmd := Cmd{Name: "ss", Args: []string{"-tuln"}}
	out, err := p.runner.Run(ctx, cmd)
	if err != nil {
		return nil, domain.NewExternalCommandError("ports", cmd.String(), out, err)
	}
	return ParseListening(out), nil
}

// Available returns up to limit free ports in the configured range, lowest
// first. limit <= 0 returns all of them. The result is a snapshot.
func (p *PortProbe) Available(ctx context.Context, limit int) ([]int, error) {
	used, err := p.UsedPorts(ctx)
	if err != nil {
		return nil, err
	}
	free := proxy.FreePorts(used, p.portRange)
	if limit > 0 && len(free) > limit {
		free = free[:limit]
	}
	return free, nil
}

// ParseListening extracts the local ports from `ss -tuln` output. The local
// address is the fifth column; the port follows its last colon.
func ParseListening(output string) []int {
	seen := make(map[int]bool)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		local := fields[4]
		idx := strings.LastIndex(local, ":")
		if idx < 0 {
			continue
		}
		port, err := strconv.Atoi(local[idx+1:])
		if err != nil || port < 0 || port > proxy.MaxPort {
			continue
		}
		seen[port] = true
	}

	ports := make([]int, 0, len(seen))
	for port := range seen {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}
