package link

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/krti/uavlink/internal/state"
)

const defaultExecTimeout = 15 * time.Second

// RunFunc executes command and returns combined output.
type RunFunc func(ctx context.Context, name string, args ...string) (string, error)

func execWithTimeout(ctx context.Context, name string, args ...string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultExecTimeout)
		defer cancel()
	}
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), errors.Timeoutf("%s", name)
	}
	return string(out), err
}

// NmcliDriver drives NetworkManager through nmcli terse output.
type NmcliDriver struct {
	Interface string
	Run       RunFunc
}

func NewNmcliDriver(iface string) *NmcliDriver {
	if iface == "" {
		iface = "wlan0"
	}
	return &NmcliDriver{Interface: iface, Run: execWithTimeout}
}

func (d *NmcliDriver) Status(ctx context.Context) (Status, error) {
	out, err := d.Run(ctx, "nmcli", "-t", "-f", "GENERAL.STATE,GENERAL.CONNECTION,IP4.ADDRESS", "device", "show", d.Interface)
	if err != nil {
		return Status{}, errors.Annotatef(err, "nmcli device show %s: %s", d.Interface, strings.TrimSpace(out))
	}
	st := parseDeviceShow(out)
	if st.Up {
		if wout, werr := d.Run(ctx, "nmcli", "-t", "-f", "IN-USE,SIGNAL", "device", "wifi", "list", "ifname", d.Interface, "--rescan", "no"); werr == nil {
			st.SignalDBM = parseSignal(wout)
		}
	}
	return st, nil
}

func (d *NmcliDriver) Scan(ctx context.Context) ([]string, error) {
	out, err := d.Run(ctx, "nmcli", "-t", "-f", "SSID", "device", "wifi", "list", "ifname", d.Interface, "--rescan", "yes")
	if err != nil {
		return nil, errors.Annotatef(err, "nmcli wifi list: %s", strings.TrimSpace(out))
	}
	return parseSSIDList(out), nil
}

func (d *NmcliDriver) Connect(ctx context.Context, n state.Network) error {
	args := []string{"device", "wifi", "connect", n.SSID, "ifname", d.Interface}
	if n.Secret != "" {
		args = append(args, "password", n.Secret)
	}
	if dl, ok := ctx.Deadline(); ok {
		// nmcli own wait, seconds
		args = append([]string{"--wait", strconv.Itoa(int(time.Until(dl).Seconds()) + 1)}, args...)
	}
	out, err := d.Run(ctx, "nmcli", args...)
	if err != nil {
		// output may echo secret
		return errors.Annotatef(err, "nmcli connect ssid=%s: %s", n.SSID, redact(out, n.Secret))
	}
	return nil
}

func redact(s, secret string) string {
	s = strings.TrimSpace(s)
	if secret == "" {
		return s
	}
	return strings.Replace(s, secret, "***", -1)
}

// terse output escapes ':' and '\' with backslash
func splitTerse(line string) []string {
	var fields []string
	var b strings.Builder
	esc := false
	for _, r := range line {
		switch {
		case esc:
			b.WriteRune(r)
			esc = false
		case r == '\\':
			esc = true
		case r == ':':
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	return append(fields, b.String())
}

func parseDeviceShow(out string) Status {
	var st Status
	connected := false
	for _, line := range strings.Split(out, "\n") {
		f := splitTerse(strings.TrimSpace(line))
		if len(f) < 2 {
			continue
		}
		key, value := f[0], strings.Join(f[1:], ":")
		switch {
		case key == "GENERAL.STATE":
			// "100 (connected)"
			code, _ := strconv.Atoi(strings.Fields(value + " 0")[0])
			connected = code == 100
		case key == "GENERAL.CONNECTION":
			if value != "--" {
				st.SSID = value
			}
		case strings.HasPrefix(key, "IP4.ADDRESS") && st.Addr == nil:
			if ip, ipnet, err := net.ParseCIDR(value); err == nil && ip.To4() != nil {
				st.Addr = &net.IPNet{IP: ip.To4(), Mask: ipnet.Mask}
			}
		}
	}
	st.Up = connected && st.Addr != nil
	return st
}

func parseSSIDList(out string) []string {
	seen := map[string]bool{}
	var list []string
	for _, line := range strings.Split(out, "\n") {
		f := splitTerse(strings.TrimRight(line, "\r"))
		ssid := f[0]
		if ssid == "" || ssid == "--" || seen[ssid] {
			continue
		}
		seen[ssid] = true
		list = append(list, ssid)
	}
	return list
}

// parseSignal converts in-use network quality percent to approximate dBm.
func parseSignal(out string) int {
	for _, line := range strings.Split(out, "\n") {
		f := splitTerse(strings.TrimSpace(line))
		if len(f) >= 2 && f[0] == "*" {
			if pct, err := strconv.Atoi(f[1]); err == nil {
				return pct/2 - 100
			}
		}
	}
	return 0
}

func (d *NmcliDriver) String() string { return fmt.Sprintf("nmcli(%s)", d.Interface) }
