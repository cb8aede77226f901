// Package app wires the lvmlockd daemon binary: a unix socket accept loop
// dispatching frames to lockd/daemon.Daemon, cobra/viper/pflag config in
// the same shape as cmd/lvmcore/app, and adopt-table load/save around
// the listener's lifetime (spec §6's LD_AF_ADOPT/LD_AF_ADOPT_ONLY).
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/logging"
	"github.com/sailfishos-mirror/lvm2-sub002/internal/lvmerr"
	"github.com/sailfishos-mirror/lvm2-sub002/lockd/backend"
	"github.com/sailfishos-mirror/lvm2-sub002/lockd/daemon"
	"github.com/sailfishos-mirror/lvm2-sub002/lockd/wire"
)

const configName = "lvmlockd-config"

var config struct {
	socketPath  string
	adoptPath   string
	adopt       bool
	development bool
	configFile  string
}

var rootCmd = &cobra.Command{
	Use:   "lvmlockd",
	Short: "LVM cluster lock manager daemon",
	Long: `lvmlockd accepts connections on its control socket and serializes
lock requests per VG lockspace, delegating inter-host arbitration to a
pluggable backend (dlm, sanlock, idm).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

// Execute adds the persistent flag set and runs the daemon.
func Execute() {
	fs := rootCmd.PersistentFlags()
	fs.StringVar(&config.socketPath, "socket", "/run/lvm/lvmlockd.socket", "control socket path")
	fs.StringVar(&config.adoptPath, "adopt-file", "/run/lvm/lvmlockd.adopt", "adopt table path")
	fs.BoolVar(&config.adopt, "adopt", false, "restore lock state from the adopt table on startup")
	fs.BoolVar(&config.development, "development-logging", false, "use human-readable development logging instead of JSON")
	fs.StringVar(&config.configFile, configName, fmt.Sprintf("%s.yaml", configName), "config file name; the value is not read: lvmlockd-config.yaml is searched in /etc/lvm and the working directory")

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return loadConfigFileIntoFlagSet(fs)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(5)
	}
}

func loadConfigFileIntoFlagSet(fs *pflag.FlagSet) error {
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == configName {
			return
		}
		_ = viper.BindPFlag(f.Name, f)
	})
	viper.AddConfigPath("/etc/lvm")
	viper.AddConfigPath(".")
	viper.SetConfigName("lvmlockd-config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !isConfigFileNotFoundError(err, &notFound) {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	}
	return nil
}

func isConfigFileNotFoundError(err error, target *viper.ConfigFileNotFoundError) bool {
	t, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = t
	}
	return ok
}

func run(parent context.Context) error {
	log, err := logging.New("lvmlockd", config.development)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.IntoContext(ctx, log)

	metrics := daemon.NewMetrics(prometheus.DefaultRegisterer)
	d := daemon.New(log, metrics, backend.Resolve)

	if config.adopt {
		table, err := daemon.LoadAdoptTable(config.adoptPath)
		if err != nil {
			return fmt.Errorf("loading adopt table: %w", err)
		}
		if err := d.Adopt(ctx, table); err != nil {
			return fmt.Errorf("adopting saved lock state: %w", err)
		}
	}

	_ = os.Remove(config.socketPath)
	ln, err := net.Listen("unix", config.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", config.socketPath, err)
	}
	defer ln.Close()
	log.Info("listening", "socket", config.socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				if err := d.SaveAdoptTable(context.Background(), config.adoptPath); err != nil {
					log.Error(err, "saving adopt table on shutdown")
				}
				d.Shutdown()
				return nil
			default:
				log.Error(err, "accept failed")
				continue
			}
		}
		go serveConn(ctx, log, d, conn)
	}
}

// nextClientID hands out a unique identity to each accepted connection, used
// to track per-client lock ownership so a dropped connection's locks can be
// released (spec §4.5).
var nextClientID uint64

// serveConn reads one request per frame off conn and writes back the
// daemon's response until the client disconnects or sends OpQuit,
// mirroring the teacher's dial-once/read-frame/write-frame client loop
// from the other side of the wire. Whatever locks this connection's
// clientID acquired are released when it returns, whether the client quit
// cleanly or the connection just dropped.
func serveConn(ctx context.Context, log logr.Logger, d *daemon.Daemon, conn net.Conn) {
	clientID := atomic.AddUint64(&nextClientID, 1)
	defer d.ReleaseClient(clientID)
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		req, err := wire.ReadRequest(ctx, r)
		if err != nil {
			return
		}

		var resp wire.Response
		switch req.Op {
		case wire.OpHello:
			resp = wire.Response{Result: 0}
		case wire.OpQuit:
			_, _ = conn.Write(wire.EncodeResponse(wire.Response{Result: 0}))
			return
		case wire.OpInit, wire.OpStart, wire.OpStartWait:
			if err := d.StartVG(req.VGName, req.VGUUID, req.Extra["lock_type"], req.Flags.Has(wire.FlagEnable)); err != nil {
				resp = errResponse(err)
			}
		case wire.OpFree, wire.OpStopAll:
			if err := d.StopVG(req.VGName); err != nil {
				resp = errResponse(err)
			}
		default:
			dispatched, dispatchErr := d.DispatchAsClient(ctx, clientID, req)
			if dispatchErr != nil {
				resp = errResponse(dispatchErr)
			} else {
				resp = dispatched
			}
		}

		if _, err := conn.Write(wire.EncodeResponse(resp)); err != nil {
			log.Error(err, "writing response")
			return
		}
	}
}

// errResponse encodes err with the result code lockd/client decodes it by:
// -199 (ENOLS) for a lockspace that is not started, -210 (ESTARTING) for
// one still starting, -1 for any other failure.
func errResponse(err error) wire.Response {
	result := int32(-1)
	switch {
	case errors.Is(err, lvmerr.ErrNoLockspace):
		result = -199
	case errors.Is(err, lvmerr.ErrStarting):
		result = -210
	}
	return wire.Response{Result: result, Extra: map[string]string{"error": err.Error()}}
}
