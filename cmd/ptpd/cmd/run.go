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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/facebook/ptpd/clock"
	"github.com/facebook/ptpd/leapsectz"
	"github.com/facebook/ptpd/ptp/port"
	"github.com/facebook/ptpd/ptp/stats"
	"github.com/facebook/ptpd/ptp/transport"
	"github.com/facebook/ptpd/timestamp"
)

var (
	_ port.Clock = &clock.SysClock{}
	_ port.Clock = &clock.PHC{}
	_ port.Clock = &clock.FreeRunning{}
	_ port.Clock = &clock.Serialized{}
)

// flags
var (
	runConfigFlag string
	runIfaceFlag  string
)

func init() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runConfigFlag, "config", "c", "/etc/ptpd.yaml", "Path to the config, YAML or ptpd-style .conf")
	runCmd.Flags().StringVarP(&runIfaceFlag, "iface", "i", "", "Network interface, overrides the config")
}

// newClock picks the clock the port disciplines. The returned func releases it.
func newClock(cfg *port.Config) (port.Clock, func(), error) {
	switch {
	case cfg.FreeRunning:
		return &clock.FreeRunning{}, func() {}, nil
	case cfg.Timestamping == timestamp.HWTIMESTAMP:
		phc, err := clock.NewPHC(cfg.Iface)
		if err != nil {
			return nil, nil, err
		}
		log.Infof("using PHC %s of %s", phc.Device(), cfg.Iface)
		return phc, func() { _ = phc.Close() }, nil
	default:
		return &clock.SysClock{}, func() {}, nil
	}
}

// applyLeapSeconds takes the UTC offset from the leap second file when one is configured
func applyLeapSeconds(cfg *port.Config, now time.Time) error {
	if cfg.LeapSecondsFile == "" {
		return nil
	}
	tbl, err := leapsectz.Parse(cfg.LeapSecondsFile)
	if err != nil {
		return fmt.Errorf("reading leap seconds: %w", err)
	}
	cfg.CurrentUTCOffset = tbl.UTCOffset(now)
	cfg.UTCOffsetValid = true
	log.Infof("UTC offset %ds from %s", cfg.CurrentUTCOffset, cfg.LeapSecondsFile)
	if leap61, leap59 := tbl.Pending(now); leap61 || leap59 {
		log.Warningf("leap second pending (leap61=%v, leap59=%v)", leap61, leap59)
	}
	return nil
}

// logEvents reports port events until ctx is done
func logEvents(ctx context.Context, events <-chan port.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.(type) {
			case port.EventStateChange, port.EventStep:
				log.Warningf("port: %s", e)
			default:
				log.Infof("port: %s", e)
			}
		}
	}
}

func runDaemon(ctx context.Context, cfg *port.Config) error {
	info, err := transport.Interface(cfg.Iface)
	if err != nil {
		return err
	}
	log.Infof("clock identity %s, address %s", info.ClockIdentity, info.Addr)

	clk, release, err := newClock(cfg)
	if err != nil {
		return fmt.Errorf("opening clock: %w", err)
	}
	defer release()

	tr, err := transport.New(transport.Config{
		Iface:            cfg.Iface,
		Timestamping:     cfg.Timestamping,
		MulticastAddress: cfg.MulticastAddress,
		DSCP:             cfg.DSCP,
	})
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}

	st := stats.NewStats()
	p, err := port.New(cfg, info.ClockIdentity, tr, clock.NewSerialized(clk), st, port.NewReference())
	if err != nil {
		_ = tr.Close()
		return err
	}

	eg, ictx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return stats.NewServer(st).Start(ictx, cfg.MonitoringPort, cfg.StatsInterval)
	})
	eg.Go(func() error {
		defer tr.Close()
		return p.Run(ictx)
	})
	eg.Go(func() error {
		logEvents(ictx, p.Events())
		return nil
	})

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warningf("failed to notify systemd: %v", err)
	}
	err = eg.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the PTP port on a network interface",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()

		cfg, err := port.ReadConfig(runConfigFlag)
		if err != nil {
			log.Fatalf("reading config: %v", err)
		}
		if runIfaceFlag != "" {
			cfg.Iface = runIfaceFlag
		}
		if err := applyLeapSeconds(cfg, time.Now()); err != nil {
			log.Fatal(err)
		}
		if err := cfg.Validate(); err != nil {
			log.Fatalf("invalid config: %v", err)
		}
		log.Debugf("config: %+v", cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runDaemon(ctx, cfg); err != nil {
			log.Fatal(err)
		}
	},
}
