package state

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/krti/uavlink/helpers"
	"github.com/krti/uavlink/log2"
)

const (
	SSIDMaxLen      = 31
	SecretMinLen    = 8
	SecretMaxLen    = 63
	DefaultPort     = 5000
	DefaultInterval = 1 * time.Second
	DefaultDeviceID = "uav"
)

type Network struct {
	SSID   string `hcl:"ssid"`
	Secret string `hcl:"secret"`
}

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Device struct {
		ID string `hcl:"id"`
	} `hcl:"device"`

	Link struct {
		Driver            string    `hcl:"driver"` // nmcli | sim
		Interface         string    `hcl:"interface"`
		Networks          []Network `hcl:"network"`
		ConnectTimeoutSec int       `hcl:"connect_timeout_sec"`
		CooldownMinSec    int       `hcl:"cooldown_min_sec"`
		CooldownMaxSec    int       `hcl:"cooldown_max_sec"`
	} `hcl:"link"`

	Discovery struct {
		Service        string `hcl:"service"`
		SelfService    string `hcl:"self_service"`
		Domain         string `hcl:"domain"`
		TimeoutSec     int    `hcl:"timeout_sec"`
		QuickHosts     []int  `hcl:"quick_hosts"`
		ProbeTimeoutMs int    `hcl:"probe_timeout_ms"`
		SweepTimeoutMs int    `hcl:"sweep_timeout_ms"`
		BudgetSec      int    `hcl:"budget_sec"`
		YieldEvery     int    `hcl:"yield_every"`
		HealthPath     string `hcl:"health_path"`
	} `hcl:"discovery"`

	Dashboard struct {
		Port          int    `hcl:"port"`
		TelemetryPath string `hcl:"telemetry_path"`
		SocketEnable  bool   `hcl:"socket_enable"`
		SocketPath    string `hcl:"socket_path"`
		TimeoutMs     int    `hcl:"timeout_ms"`
	} `hcl:"dashboard"`

	Broker struct {
		Enable            bool   `hcl:"enable"`
		URL               string `hcl:"url"`
		Username          string `hcl:"username"`
		Password          string `hcl:"password"`
		TLSCAFile         string `hcl:"tls_ca_file"`
		TopicPrefix       string `hcl:"topic_prefix"`
		ConnectTimeoutSec int    `hcl:"connect_timeout_sec"`
		KeepaliveSec      int    `hcl:"keepalive_sec"`
		LogDebug          bool   `hcl:"log_debug"`
	} `hcl:"broker"`

	Telemetry struct {
		IntervalMs int    `hcl:"interval_ms"`
		Sensor     string `hcl:"sensor"` // sim
	} `hcl:"telemetry"`

	Command struct {
		MaxLength   int    `hcl:"max_length"`
		JournalPath string `hcl:"journal_path"` // empty = memory
	} `hcl:"command"`

	Persist struct {
		Root string `hcl:"root"`
	} `hcl:"persist"`

	Manual struct {
		Enable bool   `hcl:"enable"`
		Host   string `hcl:"host"`
		Port   int    `hcl:"port"`
	} `hcl:"manual"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) DeviceID() string {
	if c.Device.ID == "" {
		return DefaultDeviceID
	}
	return c.Device.ID
}

func (c *Config) DashboardPort() int {
	if c.Dashboard.Port == 0 {
		return DefaultPort
	}
	return c.Dashboard.Port
}

func (c *Config) TelemetryInterval() time.Duration {
	return helpers.IntMillisecondDefault(c.Telemetry.IntervalMs, DefaultInterval)
}

func (c *Config) TopicPrefix() string {
	if c.Broker.TopicPrefix == "" {
		return "uavlink/" + c.DeviceID()
	}
	return strings.TrimSuffix(c.Broker.TopicPrefix, "/")
}

// Redacted is copy for logging with secrets masked.
func (c *Config) Redacted() Config {
	const mask = "***"
	r := *c
	r.includeSeen = nil
	r.Link.Networks = make([]Network, len(c.Link.Networks))
	for i, n := range c.Link.Networks {
		if n.Secret != "" {
			n.Secret = mask
		}
		r.Link.Networks[i] = n
	}
	if r.Broker.Password != "" {
		r.Broker.Password = mask
	}
	return r
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	errs := make([]error, 0, 8)
	for i, n := range c.Link.Networks {
		if err := ValidateNetwork(n); err != nil {
			errs = append(errs, errors.Annotatef(err, "link.network[%d]", i))
		}
	}
	if c.Dashboard.Port != 0 {
		if err := ValidatePort(c.Dashboard.Port); err != nil {
			errs = append(errs, errors.Annotate(err, "dashboard.port"))
		}
	}
	if c.Manual.Enable {
		if err := ValidateHost(c.Manual.Host); err != nil {
			errs = append(errs, errors.Annotate(err, "manual.host"))
		}
		if err := ValidatePort(c.Manual.Port); err != nil {
			errs = append(errs, errors.Annotate(err, "manual.port"))
		}
	}
	if c.Broker.Enable && c.Broker.URL == "" {
		errs = append(errs, errors.NotValidf("broker.url empty with broker.enable"))
	}
	for _, h := range c.Discovery.QuickHosts {
		if h < 1 || h > 254 {
			errs = append(errs, errors.NotValidf("discovery.quick_hosts value=%d", h))
		}
	}
	if c.Command.MaxLength < 0 {
		errs = append(errs, errors.NotValidf("command.max_length=%d", c.Command.MaxLength))
	}
	return helpers.FoldErrors(errs)
}

func ValidateNetwork(n Network) error {
	if len(n.SSID) == 0 || len(n.SSID) > SSIDMaxLen {
		return errors.NotValidf("ssid length=%d (1..%d)", len(n.SSID), SSIDMaxLen)
	}
	// empty secret is open network
	if n.Secret != "" && (len(n.Secret) < SecretMinLen || len(n.Secret) > SecretMaxLen) {
		return errors.NotValidf("secret length=%d (%d..%d)", len(n.Secret), SecretMinLen, SecretMaxLen)
	}
	return nil
}

func ValidatePort(p int) error {
	if p < 1 || p > 65535 {
		return errors.NotValidf("port=%d", p)
	}
	return nil
}

func ValidateHost(h string) error {
	if h == "" {
		return errors.NotValidf("host empty")
	}
	if ip := net.ParseIP(h); ip != nil {
		if ip.To4() == nil {
			return errors.NotValidf("host=%s not IPv4", h)
		}
		return nil
	}
	if strings.ContainsAny(h, " /:") || len(h) > 253 {
		return errors.NotValidf("host=%s", h)
	}
	// reject dotted-quad lookalikes such as 192.168.1.256
	if strings.Count(h, ".") == 3 && strings.Trim(h, "0123456789.") == "" {
		return errors.NotValidf("host=%s", h)
	}
	return nil
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, fmt.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			*errs = append(*errs, errors.NotFoundf("config required name=%s path=%s", source.Name, norm))
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if err = hcl.Unmarshal(bs, c); err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		if _, ok := c.includeSeen[fs.Normalize(include.Name)]; ok {
			*errs = append(*errs, errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name))
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig reads and validates names in order, later sources override earlier.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		if err := osfs.SetBase(dir); err != nil {
			return nil, err
		}
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) == 0 {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
