// Command silod runs one silo process: cluster membership, the actor
// runtime, and every collaborator wired in server.go. Its command tree (one
// root *cobra.Command, a single "server" subcommand with bound flags) is
// grounded on getployz-ployz's cmd/ployzd/main.go and cmd/ployz/daemon
// command shape.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/meshkit/silo/config"
	"github.com/meshkit/silo/internal/cluster"
	"github.com/meshkit/silo/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	ServiceName      = "silod"
	ServiceNamespace = "meshkit"
)

func main() {
	root := &cobra.Command{
		Use:   ServiceName,
		Short: "virtual-actor silo process",
	}
	root.AddCommand(serverCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type serverFlags struct {
	configFile   string
	siloID       string
	endpoint     string
	regionID     string
	zoneID       string
	clusterStore string
	consulAddr   string
	serfBind     string
	serfJoin     []string
}

func serverCmd() *cobra.Command {
	var f serverFlags
	cmd := &cobra.Command{
		Use:     "server",
		Aliases: []string{"s"},
		Short:   "run the silo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), &f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.configFile, "config-file", "", "path to a YAML/JSON/TOML config file")
	flags.StringVar(&f.siloID, "silo-id", "", "stable silo identity (random uuid if unset)")
	flags.StringVar(&f.endpoint, "endpoint", "", "this silo's gRPC listen address")
	flags.StringVar(&f.regionID, "region-id", "", "")
	flags.StringVar(&f.zoneID, "zone-id", "", "")
	flags.StringVar(&f.clusterStore, "cluster-store", "memory", "memory|consul|serf")
	flags.StringVar(&f.consulAddr, "consul-addr", "", "")
	flags.StringVar(&f.serfBind, "serf-bind", "0.0.0.0:7946", "")
	flags.StringSliceVar(&f.serfJoin, "serf-join", nil, "")
	return cmd
}

func runServer(ctx context.Context, f *serverFlags) error {
	flags := pflag.NewFlagSet(ServiceName, pflag.ContinueOnError)
	cfg, err := config.Load(flags, f.configFile)
	if err != nil {
		return err
	}

	if f.siloID != "" {
		cfg.SiloID = f.siloID
	}
	if cfg.SiloID == "" {
		cfg.SiloID = uuid.NewString()
	}
	if f.endpoint != "" {
		cfg.Endpoint = f.endpoint
	}
	if f.regionID != "" {
		cfg.RegionID = f.regionID
	}
	if f.zoneID != "" {
		cfg.ZoneID = f.zoneID
	}

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.Log.Level))
	logger := logging.New(logging.Config{
		Format: logging.Format(cfg.Log.Format),
		Level:  level,
	})

	store, err := buildStore(f)
	if err != nil {
		return err
	}

	srv, err := NewServer(cfg, logger, store, echoDispatcher{})
	if err != nil {
		return fmt.Errorf("silod: build server: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	return srv.Stop(context.Background())
}

func buildStore(f *serverFlags) (cluster.Store, error) {
	switch f.clusterStore {
	case "consul":
		return cluster.NewConsulStore(f.consulAddr, "")
	case "serf":
		host, port := splitHostPort(f.serfBind)
		return cluster.NewSerfStore(cluster.SerfConfig{
			NodeName: f.siloID,
			BindAddr: host,
			BindPort: port,
			Join:     f.serfJoin,
		})
	default:
		return cluster.NewMemoryStore(), nil
	}
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 7946
	}
	var port int
	_, _ = fmt.Sscanf(portStr, "%d", &port)
	return host, port
}
