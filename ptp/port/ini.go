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
	"strings"
	"time"

	"github.com/go-ini/ini"
	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/ptpd/ptp/protocol"
	"github.com/facebook/ptpd/servo"
	"github.com/facebook/ptpd/timestamp"
)

// iniConfig looks keys up either as "key" in [section] or as "section:key" at the top of the file,
// so both sectioned files and flat ptpd.conf files are read
type iniConfig struct {
	f   *ini.File
	err error
}

func (c *iniConfig) key(section, name string) (*ini.Key, bool) {
	if s, err := c.f.GetSection(section); err == nil && s.HasKey(name) {
		return s.Key(name), true
	}
	flat := section + ":" + name
	if s := c.f.Section(ini.DefaultSection); s.HasKey(flat) {
		return s.Key(flat), true
	}
	return nil, false
}

func (c *iniConfig) fail(section, name string, err error) {
	if c.err == nil {
		c.err = fmt.Errorf("%s:%s: %w", section, name, err)
	}
}

func (c *iniConfig) str(section, name string, v *string) {
	if k, ok := c.key(section, name); ok {
		*v = k.String()
	}
}

func (c *iniConfig) boolean(section, name string, v *bool) {
	k, ok := c.key(section, name)
	if !ok {
		return
	}
	b, err := k.Bool()
	if err != nil {
		c.fail(section, name, err)
		return
	}
	*v = b
}

func (c *iniConfig) integer(section, name string, lo, hi int64, set func(int64)) {
	k, ok := c.key(section, name)
	if !ok {
		return
	}
	i, err := k.Int64()
	if err != nil {
		c.fail(section, name, err)
		return
	}
	if i < lo || i > hi {
		c.fail(section, name, fmt.Errorf("%d out of range [%d, %d]", i, lo, hi))
		return
	}
	set(i)
}

func (c *iniConfig) float(section, name string, v *float64) {
	k, ok := c.key(section, name)
	if !ok {
		return
	}
	f, err := k.Float64()
	if err != nil {
		c.fail(section, name, err)
		return
	}
	*v = f
}

// duration reads plain numbers as multiples of unit, ptpd style, and anything else with time.ParseDuration
func (c *iniConfig) duration(section, name string, unit time.Duration, v *time.Duration) {
	k, ok := c.key(section, name)
	if !ok {
		return
	}
	if f, err := k.Float64(); err == nil {
		*v = time.Duration(f * float64(unit))
		return
	}
	d, err := k.Duration()
	if err != nil {
		c.fail(section, name, err)
		return
	}
	*v = d
}

func (c *iniConfig) u8(section, name string, v *uint8) {
	c.integer(section, name, 0, 255, func(i int64) { *v = uint8(i) })
}

func (c *iniConfig) logInterval(section, name string, v *ptp.LogInterval) {
	c.integer(section, name, -128, 127, func(i int64) { *v = ptp.LogInterval(i) })
}

func (c *iniConfig) filter(prefix string, f *servo.OutlierFilterConfig) {
	const s = "ptpengine"
	c.boolean(s, prefix+"_outlier_filter_enable", &f.Enabled)
	action := ""
	c.str(s, prefix+"_outlier_filter_action", &action)
	switch strings.ToLower(action) {
	case "":
	case "discard":
		f.Discard = true
	case "filter":
		f.Discard = false
	default:
		c.fail(s, prefix+"_outlier_filter_action", fmt.Errorf("unknown action %q", action))
	}
	c.integer(s, prefix+"_outlier_filter_capacity", 4, 1024, func(i int64) { f.Capacity = int(i) })
	c.float(s, prefix+"_outlier_filter_threshold", &f.Threshold)
	c.float(s, prefix+"_outlier_weight", &f.Weight)
	c.boolean(s, prefix+"_outlier_filter_autotune_enable", &f.AutoTune)
	c.integer(s, prefix+"_outlier_filter_autotune_minpercent", 0, 100, func(i int64) { f.MinPercent = int(i) })
	c.integer(s, prefix+"_outlier_filter_autotune_maxpercent", 0, 100, func(i int64) { f.MaxPercent = int(i) })
	c.float(s, prefix+"_outlier_autotune_step", &f.ThresholdStep)
	c.float(s, prefix+"_outlier_filter_autotune_minthreshold", &f.MinThreshold)
	c.float(s, prefix+"_outlier_filter_autotune_maxthreshold", &f.MaxThreshold)
	c.boolean(s, prefix+"_outlier_filter_stepdetect_enable", &f.StepDelay)
	c.integer(s, prefix+"_outlier_filter_stepdetect_threshold", 0, 1<<40, func(i int64) { f.StepThreshold = i })
	c.integer(s, prefix+"_outlier_filter_stepdetect_level", 0, 1<<40, func(i int64) { f.StepLevel = i })
	c.integer(s, prefix+"_outlier_filter_stepdetect_credit", 0, 1<<20, func(i int64) { f.DelayCredit = int(i) })
	c.integer(s, prefix+"_outlier_filter_stepdetect_credit_increment", 0, 1<<20, func(i int64) { f.CreditIncrement = int(i) })
}

// ReadINIConfig reads a ptpd-style configuration file
func ReadINIConfig(path string) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		KeyValueDelimiters: "=",
		Insensitive:        true,
		AllowBooleanKeys:   true,
	}, path)
	if err != nil {
		return nil, err
	}
	return parseINI(f)
}

func parseINI(f *ini.File) (*Config, error) {
	cfg := DefaultConfig()
	c := &iniConfig{f: f}
	const pe = "ptpengine"

	c.str(pe, "interface", &cfg.Iface)
	hw := cfg.Timestamping == timestamp.HWTIMESTAMP
	c.boolean(pe, "hardware_timestamping", &hw)
	if hw {
		cfg.Timestamping = timestamp.HWTIMESTAMP
	}
	c.str(pe, "version", &cfg.Version)
	c.u8(pe, "domain", &cfg.DomainNumber)
	c.boolean(pe, "any_domain", &cfg.AnyDomain)
	c.u8(pe, "priority1", &cfg.Priority1)
	c.u8(pe, "priority2", &cfg.Priority2)
	c.integer(pe, "ptp_clockclass", 0, 255, func(i int64) { cfg.ClockClass = ptp.ClockClass(i) })
	c.integer(pe, "ptp_clock_accuracy", 0, 255, func(i int64) { cfg.ClockAccuracy = ptp.ClockAccuracy(i) })
	c.integer(pe, "ptp_allan_variance", 0, 0xffff, func(i int64) { cfg.OffsetScaledLogVariance = uint16(i) })
	c.boolean(pe, "slave_only", &cfg.SlaveOnly)
	c.boolean(pe, "two_step", &cfg.TwoStep)
	c.integer(pe, "port_number", 1, 0xfffe, func(i int64) { cfg.PortNumber = uint16(i) })
	c.str(pe, "delay_mechanism", &cfg.DelayMechanism)
	c.boolean(pe, "prefer_utc_offset_valid", &cfg.PreferUTCValid)
	c.str(pe, "bmc_profile", &cfg.BMCProfile)
	cfg.BMCProfile = strings.ToLower(cfg.BMCProfile)
	c.logInterval(pe, "log_announce_interval", &cfg.LogAnnounceInterval)
	c.logInterval(pe, "log_sync_interval", &cfg.LogSyncInterval)
	c.logInterval(pe, "log_delayreq_interval", &cfg.LogMinDelayReqInterval)
	c.logInterval(pe, "log_peer_delayreq_interval", &cfg.LogMinPdelayReqInterval)
	c.u8(pe, "announce_receipt_timeout", &cfg.AnnounceReceiptTimeout)
	c.integer(pe, "foreignrecord_capacity", 1, 1024, func(i int64) { cfg.ForeignMasterCapacity = int(i) })
	c.integer(pe, "ptp_timesource", 0, 255, func(i int64) { cfg.TimeSource = ptp.TimeSource(i) })
	c.integer(pe, "utc_offset", -1<<15, 1<<15-1, func(i int64) { cfg.CurrentUTCOffset = int16(i) })
	c.boolean(pe, "utc_offset_valid", &cfg.UTCOffsetValid)
	timescale := ""
	c.str(pe, "ptp_timescale", &timescale)
	switch strings.ToUpper(timescale) {
	case "":
	case "PTP":
		cfg.PTPTimescale = true
	case "ARB":
		cfg.PTPTimescale = false
	default:
		c.fail(pe, "ptp_timescale", fmt.Errorf("must be PTP or ARB, got %q", timescale))
	}
	c.str(pe, "multicast_address", &cfg.MulticastAddress)
	c.integer(pe, "ip_dscp", 0, 63, func(i int64) { cfg.DSCP = int(i) })
	c.boolean(pe, "disabled", &cfg.Disabled)
	c.duration(pe, "fault_reset_interval", time.Second, &cfg.FaultResetInterval)

	ipMode := ""
	c.str(pe, "ip_mode", &ipMode)
	switch strings.ToLower(ipMode) {
	case "", "multicast":
	case "unicast", "hybrid":
		cfg.Unicast.Enabled = true
	default:
		c.fail(pe, "ip_mode", fmt.Errorf("unknown mode %q", ipMode))
	}
	c.boolean(pe, "unicast_negotiation", &cfg.Unicast.Enabled)
	dests := ""
	c.str(pe, "unicast_destinations", &dests)
	for _, d := range strings.Split(dests, ",") {
		if d = strings.TrimSpace(d); d != "" {
			cfg.Unicast.Masters = append(cfg.Unicast.Masters, d)
		}
	}
	c.duration(pe, "unicast_grant_duration", time.Second, &cfg.Unicast.Duration)

	c.filter("sync", &cfg.Servo.OffsetFilter)
	c.filter("delay", &cfg.Servo.DelayFilter)

	const sv = "servo"
	c.float(sv, "kp", &cfg.Servo.PI.PiKp)
	c.float(sv, "ki", &cfg.Servo.PI.PiKi)
	c.float(sv, "dt_max", &cfg.Servo.PI.MaxTau)
	c.float(sv, "max_offset", &cfg.Servo.MaxFreqPPB)
	c.duration(sv, "step_threshold", time.Nanosecond, &cfg.Servo.StepThreshold)
	c.duration(sv, "first_step_threshold", time.Nanosecond, &cfg.Servo.FirstStepThreshold)
	c.duration(sv, "step_exit_threshold", time.Nanosecond, &cfg.Servo.StepExitThreshold)
	c.integer(sv, "panic_samples", 0, 1<<20, func(i int64) { cfg.Servo.PanicSamples = int(i) })
	c.float(sv, "stability_threshold", &cfg.Servo.Classifier.StableAdev)
	c.integer(sv, "stability_period", 2, 1<<20, func(i int64) { cfg.Servo.Classifier.AdevPeriod = int(i) })
	c.duration(sv, "stability_timeout", time.Second, &cfg.Servo.Classifier.FreerunAge)
	c.str(sv, "accuracy_expr", &cfg.Servo.AccuracyExpr)

	const gl = "global"
	c.integer(gl, "monitoring_port", 0, 65535, func(i int64) { cfg.MonitoringPort = int(i) })
	c.duration(gl, "statistics_update_interval", time.Second, &cfg.StatsInterval)
	level := ""
	c.str(gl, "log_level", &level)
	if level != "" {
		if l, err := log.ParseLevel(strings.TrimPrefix(strings.ToLower(level), "log_")); err == nil {
			log.SetLevel(l)
		} else {
			c.fail(gl, "log_level", err)
		}
	}

	const ck = "clock"
	c.boolean(ck, "no_adjust", &cfg.FreeRunning)
	c.str(ck, "leap_seconds_file", &cfg.LeapSecondsFile)

	if c.err != nil {
		return nil, c.err
	}
	return cfg, nil
}
