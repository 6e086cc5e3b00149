/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package port

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	version "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/ptp/unicast"
	"github.com/facebook/ptpd/servo"
	"github.com/facebook/ptpd/timestamp"
)

// SupportedVersions is the range of PTP versions we speak
const SupportedVersions = ">= 2.0, < 2.2"

// delay mechanisms as written in config
const (
	DelayE2E      = "e2e"
	DelayP2P      = "p2p"
	DelayDisabled = "disabled"
)

// BMC profiles as written in config
const (
	BMCDefault = "ieee1588"
	BMCTelco   = "telco"
)

// DefaultMulticastAddress is the primary IPv4 PTP multicast group
const DefaultMulticastAddress = "224.0.1.129"

// UnicastConfig configures unicast negotiation, both as a grantor and as a requester
type UnicastConfig struct {
	Enabled bool `yaml:"enabled"`
	// Masters to request unicast transmission from. Empty means we only grant.
	Masters []string `yaml:"masters"`
	// Duration asked for in requests
	Duration time.Duration `yaml:"duration"`
	// MaxDuration is the longest grant we hand out
	MaxDuration  time.Duration `yaml:"max_duration"`
	RequestRate  float64       `yaml:"request_rate"`
	RequestBurst int           `yaml:"request_burst"`
	// MaxDestinations caps how many addresses we grant to at once
	MaxDestinations int `yaml:"max_destinations"`
	// slowest intervals we grant, the fastest are the port intervals
	LogMaxAnnounceInterval  ptp.LogInterval `yaml:"log_max_announce_interval"`
	LogMaxSyncInterval      ptp.LogInterval `yaml:"log_max_sync_interval"`
	LogMaxDelayRespInterval ptp.LogInterval `yaml:"log_max_delay_resp_interval"`
}

// Config specifies port run options
type Config struct {
	Iface        string `yaml:"iface"`
	Timestamping string `yaml:"timestamping"`
	// Version is the PTP version we speak, major.minor
	Version                 string            `yaml:"version"`
	DomainNumber            uint8             `yaml:"domain_number"`
	AnyDomain               bool              `yaml:"any_domain"`
	Priority1               uint8             `yaml:"priority1"`
	Priority2               uint8             `yaml:"priority2"`
	ClockClass              ptp.ClockClass    `yaml:"clock_class"`
	ClockAccuracy           ptp.ClockAccuracy `yaml:"clock_accuracy"`
	OffsetScaledLogVariance uint16            `yaml:"offset_scaled_log_variance"`
	SlaveOnly               bool              `yaml:"slave_only"`
	TwoStep                 bool              `yaml:"two_step"`
	PortNumber              uint16            `yaml:"port_number"`
	DelayMechanism          string            `yaml:"delay_mechanism"`
	PreferUTCValid          bool              `yaml:"prefer_utc_valid"`
	BMCProfile              string            `yaml:"bmc_profile"`
	LogAnnounceInterval     ptp.LogInterval   `yaml:"log_announce_interval"`
	LogSyncInterval         ptp.LogInterval   `yaml:"log_sync_interval"`
	LogMinDelayReqInterval  ptp.LogInterval   `yaml:"log_min_delay_req_interval"`
	LogMinPdelayReqInterval ptp.LogInterval   `yaml:"log_min_pdelay_req_interval"`
	AnnounceReceiptTimeout  uint8             `yaml:"announce_receipt_timeout"`
	ForeignMasterCapacity   int               `yaml:"foreign_master_capacity"`
	TimeSource              ptp.TimeSource    `yaml:"time_source"`
	CurrentUTCOffset        int16             `yaml:"current_utc_offset"`
	UTCOffsetValid          bool              `yaml:"utc_offset_valid"`
	// LeapSecondsFile is a TZif file with leap second records, it overrides CurrentUTCOffset when set
	LeapSecondsFile  string `yaml:"leap_seconds_file"`
	PTPTimescale     bool   `yaml:"ptp_timescale"`
	MulticastAddress string `yaml:"multicast_address"`
	DSCP             int    `yaml:"dscp"`
	// FaultResetInterval is how long the port stays FAULTY before trying again
	FaultResetInterval time.Duration `yaml:"fault_reset_interval"`
	// StatsInterval is how often counters are pushed to the stats server
	StatsInterval  time.Duration `yaml:"stats_interval"`
	MonitoringPort int           `yaml:"monitoring_port"`
	FreeRunning    bool          `yaml:"free_running"`
	Disabled       bool          `yaml:"disabled"`
	Unicast        UnicastConfig `yaml:"unicast"`
	Servo          servo.Config  `yaml:"servo"`

	versionField ptp.VersionField
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Iface:                   "eth0",
		Timestamping:            timestamp.SWTIMESTAMP,
		Version:                 "2.1",
		DomainNumber:            0,
		Priority1:               128,
		Priority2:               128,
		ClockClass:              ptp.ClockClassDefault,
		ClockAccuracy:           ptp.ClockAccuracyUnknown,
		OffsetScaledLogVariance: 0xffff,
		TwoStep:                 true,
		PortNumber:              1,
		DelayMechanism:          DelayE2E,
		BMCProfile:              BMCDefault,
		LogAnnounceInterval:     1,
		LogSyncInterval:         0,
		LogMinDelayReqInterval:  0,
		LogMinPdelayReqInterval: 0,
		AnnounceReceiptTimeout:  6,
		ForeignMasterCapacity:   5,
		TimeSource:              ptp.TimeSourceInternalOscillator,
		CurrentUTCOffset:        37,
		PTPTimescale:            true,
		MulticastAddress:        DefaultMulticastAddress,
		FaultResetInterval:      5 * time.Second,
		StatsInterval:           time.Second,
		MonitoringPort:          4270,
		Unicast: UnicastConfig{
			Duration:                300 * time.Second,
			MaxDuration:             unicast.DefaultMaxGrantDuration,
			MaxDestinations:         unicast.DefaultMaxDestinations,
			RequestRate:             4,
			RequestBurst:            6,
			LogMaxAnnounceInterval:  3,
			LogMaxSyncInterval:      3,
			LogMaxDelayRespInterval: 3,
		},
		Servo: *servo.DefaultConfig(),
	}
}

// ParseVersion checks s against SupportedVersions and returns the header version field
func ParseVersion(s string) (ptp.VersionField, error) {
	v, err := version.NewVersion(s)
	if err != nil {
		return 0, fmt.Errorf("parsing version %q: %w", s, err)
	}
	c, err := version.NewConstraint(SupportedVersions)
	if err != nil {
		return 0, err
	}
	if !c.Check(v) {
		return 0, fmt.Errorf("version %s is not in supported range %q", v, SupportedVersions)
	}
	seg := v.Segments()
	minor := 0
	if len(seg) > 1 {
		minor = seg[1]
	}
	return ptp.NewVersionField(uint8(seg[0]), uint8(minor)), nil
}

// ParseDelayMechanism maps the config string to the wire value
func ParseDelayMechanism(s string) (ptp.DelayMechanism, error) {
	switch strings.ToLower(s) {
	case DelayE2E:
		return ptp.DelayMechanismE2E, nil
	case DelayP2P:
		return ptp.DelayMechanismP2P, nil
	case DelayDisabled, "delay_disabled":
		return ptp.DelayMechanismDisabled, nil
	}
	return 0, fmt.Errorf("delay_mechanism must be either %q, %q or %q", DelayE2E, DelayP2P, DelayDisabled)
}

// VersionField returns the header version field, valid after Validate
func (c *Config) VersionField() ptp.VersionField {
	if c.versionField == 0 {
		return ptp.NewVersionField(ptp.MajorVersion, ptp.MinorVersion)
	}
	return c.versionField
}

// Masters returns the parsed unicast master addresses
func (c *Config) Masters() ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(c.Unicast.Masters))
	for _, m := range c.Unicast.Masters {
		a, err := netip.ParseAddr(m)
		if err != nil {
			return nil, fmt.Errorf("unicast master %q: %w", m, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Validate config is sane
func (c *Config) Validate() error {
	if c.Iface == "" {
		return fmt.Errorf("iface must be specified")
	}
	if c.Timestamping != timestamp.HWTIMESTAMP && c.Timestamping != timestamp.SWTIMESTAMP {
		return fmt.Errorf("only %q and %q timestamping is supported", timestamp.HWTIMESTAMP, timestamp.SWTIMESTAMP)
	}
	vf, err := ParseVersion(c.Version)
	if err != nil {
		return err
	}
	c.versionField = vf
	if _, err := ParseDelayMechanism(c.DelayMechanism); err != nil {
		return err
	}
	switch c.BMCProfile {
	case BMCDefault, BMCTelco:
	default:
		return fmt.Errorf("bmc_profile must be %q or %q, got %q", BMCDefault, BMCTelco, c.BMCProfile)
	}
	if c.PortNumber == 0 || c.PortNumber == 0xffff {
		return fmt.Errorf("port_number must be within [1, 65534]")
	}
	if c.AnnounceReceiptTimeout < 2 {
		return fmt.Errorf("announce_receipt_timeout must be at least 2")
	}
	if c.ForeignMasterCapacity <= 0 {
		return fmt.Errorf("foreign_master_capacity must be greater than zero")
	}
	if c.SlaveOnly && c.ClockClass != ptp.ClockClassSlaveOnly {
		log.Warningf("slave_only is set, advertising clock class %d instead of %d", ptp.ClockClassSlaveOnly, c.ClockClass)
		c.ClockClass = ptp.ClockClassSlaveOnly
	}
	for name, li := range map[string]ptp.LogInterval{
		"log_announce_interval":       c.LogAnnounceInterval,
		"log_sync_interval":           c.LogSyncInterval,
		"log_min_delay_req_interval":  c.LogMinDelayReqInterval,
		"log_min_pdelay_req_interval": c.LogMinPdelayReqInterval,
	} {
		if li < -7 || li > 7 {
			return fmt.Errorf("%s must be within [-7, 7]", name)
		}
	}
	if _, err := netip.ParseAddr(c.MulticastAddress); err != nil {
		return fmt.Errorf("multicast_address: %w", err)
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("dscp must be within [0, 63]")
	}
	if c.FaultResetInterval <= 0 {
		return fmt.Errorf("fault_reset_interval must be greater than zero")
	}
	if c.StatsInterval <= 0 {
		return fmt.Errorf("stats_interval must be greater than zero")
	}
	if c.MonitoringPort < 0 {
		return fmt.Errorf("monitoring_port must be 0 or positive")
	}
	if c.Unicast.Enabled {
		if _, err := c.Masters(); err != nil {
			return err
		}
		if c.Unicast.Duration <= 0 {
			return fmt.Errorf("unicast duration must be greater than zero")
		}
		if c.Unicast.RequestRate < 0 {
			return fmt.Errorf("unicast request_rate must be 0 or positive")
		}
		if c.Unicast.MaxDestinations < 0 {
			return fmt.Errorf("unicast max_destinations must be 0 or positive")
		}
	}
	if err := c.Servo.Validate(); err != nil {
		return fmt.Errorf("invalid servo config: %w", err)
	}
	return nil
}

// GrantLimits returns the intervals we grant, per negotiable message type
func (c *Config) GrantLimits() map[ptp.MessageType]unicast.Limits {
	clamp := func(fastest, slowest ptp.LogInterval) unicast.Limits {
		if slowest < fastest {
			slowest = fastest
		}
		return unicast.Limits{LogMinInterval: fastest, LogMaxInterval: slowest}
	}
	return map[ptp.MessageType]unicast.Limits{
		ptp.MessageAnnounce:   clamp(c.LogAnnounceInterval, c.Unicast.LogMaxAnnounceInterval),
		ptp.MessageSync:       clamp(c.LogSyncInterval, c.Unicast.LogMaxSyncInterval),
		ptp.MessageDelayResp:  clamp(c.LogMinDelayReqInterval, c.Unicast.LogMaxDelayRespInterval),
		ptp.MessagePDelayResp: clamp(c.LogMinPdelayReqInterval, c.Unicast.LogMaxDelayRespInterval),
	}
}

// ReadConfig reads config from the file. Files ending in .conf or .ini are read as ptpd-style INI,
// anything else as YAML.
func ReadConfig(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".conf", ".ini":
		return ReadINIConfig(path)
	}
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(cData, c); err != nil {
		return nil, err
	}
	return c, nil
}
