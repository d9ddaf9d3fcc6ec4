package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tapevault/bstored/internal/config"
	"github.com/tapevault/bstored/internal/device"
	"github.com/tapevault/bstored/internal/reserve"
	"github.com/tapevault/bstored/internal/status"
	"github.com/tapevault/bstored/internal/volume"
)

// maxConcurrentDeviceProbes bounds how many devices are opened/closed at
// once during startup, so a daemon configured with dozens of tape drives
// doesn't try to open them all simultaneously (spec.md §5 "background
// device initialization").
const maxConcurrentDeviceProbes = 4

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the storage daemon core",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg := config.Defaults()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	devices, _, err := buildDevices(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := probeDevices(ctx, devices, log); err != nil {
		cancel()
		return err
	}

	vols := volume.NewManager()
	engine := reserve.NewEngine(devices, vols, cfg)
	_ = engine

	responder := status.NewResponder(rootCmd.Version, devices, vols, nil, nil)

	log.WithField("name", cfg.Name).WithField("listen", cfg.ListenAddress).Info("bstored core ready")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return statusHeartbeat(gctx, log, responder) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("shutting down")
	cancel()
	return group.Wait()
}

// probeDevices opens and closes every configured device once at startup, so
// a misconfigured archive_device or an unreachable tape drive shows up in
// the log immediately rather than on a job's first write. Probes run
// concurrently, bounded by a weighted semaphore, matching the pack's
// juju-juju/canonical-snapd use of golang.org/x/sync/semaphore to cap
// fan-out against a fixed-size resource pool.
func probeDevices(ctx context.Context, devices []*device.Device, log *logrus.Logger) error {
	sem := semaphore.NewWeighted(maxConcurrentDeviceProbes)
	group, gctx := errgroup.WithContext(ctx)
	for _, d := range devices {
		d := d
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		group.Go(func() error {
			defer sem.Release(1)
			probeDevice(d, log)
			return nil
		})
	}
	return group.Wait()
}

// probeDevice logs the outcome of opening d read-only and immediately
// closing it again. A probe failure is not fatal at startup: a declared but
// unimplemented backend (e.g. real tape, NDMP) or a drive with no media
// loaded yet still gets acquired lazily on first use (spec.md §3 DEVICE
// "opened lazily").
func probeDevice(d *device.Device, log *logrus.Logger) {
	fields := log.WithField("device", d.Name).WithField("media_type", d.MediaType)
	if err := d.Backend.Open(device.ReadOnly); err != nil {
		fields.WithError(err).Warn("device probe failed, will open lazily on first use")
		return
	}
	defer d.Backend.Close()
	fields.WithField("kind", d.Backend.Kind()).Info("device configured")
}

// statusHeartbeat periodically logs the `.status devices` view so an
// operator tailing the log sees the same device/reservation state a
// `.status` client would get over the director protocol (spec.md §6.6),
// run under an errgroup so a future second background task (e.g. a spool
// despooler) shares the same cancellation signal.
func statusHeartbeat(ctx context.Context, log *logrus.Logger, responder *status.Responder) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			lines, err := responder.Answer(status.KeywordDevices)
			if err != nil {
				return err
			}
			for _, line := range lines {
				log.Debug(line)
			}
		}
	}
}

// newLogger builds the process-wide structured logger, the way the pack's
// backup-agent CLIs (mender, sendense) configure logrus: text formatter,
// level gated by the root command's verbose/quiet flags.
func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	switch {
	case quiet:
		log.SetLevel(logrus.ErrorLevel)
	case verbose:
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}
