package monitor

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Conditions reports the device state a monitor run depends on.
type Conditions interface {
	// BatteryLevel returns the charge in percent; 100 when there is no battery.
	BatteryLevel(ctx context.Context) (int, error)
	NetworkAvailable(ctx context.Context) bool
}

// BatterySensor and NetworkSensor are the two halves of Conditions.
type BatterySensor interface {
	BatteryLevel(ctx context.Context) (int, error)
}

type NetworkSensor interface {
	NetworkAvailable(ctx context.Context) bool
}

type combined struct {
	BatterySensor
	NetworkSensor
}

// Combine joins a battery and a network sensor.
func Combine(b BatterySensor, n NetworkSensor) Conditions {
	return combined{BatterySensor: b, NetworkSensor: n}
}

// Static is a fixed Conditions value.
type Static struct {
	Battery int
	Online  bool
}

func (s Static) BatteryLevel(context.Context) (int, error) { return s.Battery, nil }
func (s Static) NetworkAvailable(context.Context) bool     { return s.Online }

// SysfsBattery reads the Linux power-supply class.
type SysfsBattery struct {
	fs   afero.Fs
	root string
}

// NewSysfsBattery reads from /sys/class/power_supply on the OS filesystem when
// fs is nil and root is empty.
func NewSysfsBattery(fs afero.Fs, root string) *SysfsBattery {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if root == "" {
		root = "/sys/class/power_supply"
	}
	return &SysfsBattery{fs: fs, root: root}
}

// BatteryLevel returns the lowest capacity among supplies of type Battery.
func (b *SysfsBattery) BatteryLevel(context.Context) (int, error) {
	entries, err := afero.ReadDir(b.fs, b.root)
	if err != nil {
		// No power-supply class: treat as mains powered.
		return 100, nil
	}
	level, found := 100, false
	for _, e := range entries {
		dir := b.root + "/" + e.Name()
		if t, err := afero.ReadFile(b.fs, dir+"/type"); err == nil && strings.TrimSpace(string(t)) != "Battery" {
			continue
		}
		raw, err := afero.ReadFile(b.fs, dir+"/capacity")
		if err != nil {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			continue
		}
		if !found || n < level {
			level, found = n, true
		}
	}
	return level, nil
}

// HostReachability treats the network as available when a TCP connection to
// the target URL's host succeeds.
type HostReachability struct {
	addr    string
	timeout time.Duration
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewHostReachability(target string, timeout time.Duration) *HostReachability {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &net.Dialer{Timeout: timeout}
	return &HostReachability{addr: hostPort(target), timeout: timeout, dial: d.DialContext}
}

func hostPort(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func (h *HostReachability) NetworkAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	conn, err := h.dial(ctx, "tcp", h.addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
