package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/keysmith/internal/config"
	"github.com/faucetdb/keysmith/internal/server"
)

const banner = `
 _                          _ _   _
| | _____ _   _ ___ _ __ ___ (_) |_| |__
| |/ / _ \ | | / __| '_ ` + "`" + ` _ \| | __| '_ \
|   <  __/ |_| \__ \ | | | | | | |_| | | |
|_|\_\___|\__, |___/_| |_| |_|_|\__|_| |_|
          |___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keysmith API server",
		Long:  "Start the HTTP server that issues API keys, exchanges them for access tokens and validates tokens.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe() error {
	fmt.Print(banner)
	fmt.Println()

	a, err := buildApp(os.Stderr, true)
	if err != nil {
		return err
	}
	defer a.Close()

	shutdownTimeout, err := config.ParseDuration(a.cfg.Server.ShutdownTimeout, 30*time.Second)
	if err != nil {
		return fmt.Errorf("server.shutdown_timeout: %w", err)
	}

	a.limiter.Start()

	srvCfg := server.Config{
		Host:            a.cfg.Server.Host,
		Port:            a.cfg.Server.Port,
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     a.cfg.Server.CORS.Origins,
		FloodLimit:      a.cfg.Server.FloodLimit,
		EnableMetrics:   a.cfg.Metrics.Enabled,
		Version:         versionString(),
	}
	srv := server.New(srvCfg, a.store, a.gateway, a.logger)
	srv.OnShutdown(a.limiter.Stop)
	srv.OnShutdown(a.usage.Shutdown)

	host := srvCfg.Host
	fmt.Printf("→ keysmith %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, srvCfg.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", host, srvCfg.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, srvCfg.Port)
	if srvCfg.EnableMetrics {
		fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", host, srvCfg.Port)
	}
	fmt.Printf("→ Keys:       %s_%s_v*\n", a.codec.Prefix(), a.codec.Environment())
	fmt.Printf("→ Store:      %s\n", a.store.Dialect())
	fmt.Println()

	return srv.ListenAndServe()
}
