package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"indi/pkg/api"
	"indi/pkg/bridge"
	"indi/pkg/indi"
	"indi/pkg/manager"
	"indi/pkg/metrics"
	"indi/pkg/trace"
	"indi/templates"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"
)

func run(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	log.Info("INDI Client")

	tmpl, err := templates.Load()
	if err != nil {
		return fmt.Errorf("failed to load templates: %v", err)
	}

	db, err := bolt.Open(c.String("db"), 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer db.Close()

	store, err := api.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create store: %v", err)
	}

	// Channel to listen for interrupt or terminate signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	mgr := manager.New(manager.Config{
		Connection: indi.DefaultConfig(),
		Reconnect:  c.Bool("reconnect"),
	}, log.WithField("component", "manager"))
	defer mgr.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ml, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %v", err)
	}
	mgr.Subscribe(ml)

	if path := c.String("trace"); path != "" {
		rec, err := trace.OpenFile(path, log.WithField("component", "trace"))
		if err != nil {
			return fmt.Errorf("failed to open trace file: %v", err)
		}
		defer rec.Close()
		mgr.Subscribe(rec)
		log.Infof("Recording protocol trace to %s", path)
	}

	if c.Bool("mqtt") {
		cfg, err := store.GetMQTTConfig()
		if err != nil {
			return fmt.Errorf("failed to get MQTT config: %v", err)
		}
		client, err := bridge.NewClient(cfg.BridgeConfig())
		if err != nil {
			return err
		}
		defer client.Disconnect(250)

		b := bridge.New(client, cfg.TopicRoot, mgr, log.WithField("component", "bridge"))
		mgr.Subscribe(b)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Run(ctx); err != nil {
				log.Errorf("MQTT bridge failed: %v", err)
			}
		}()
	}

	server, err := store.GetServerConfig()
	if err != nil {
		return fmt.Errorf("failed to get server config: %v", err)
	}
	if c.IsSet("host") {
		server.Host = c.String("host")
	}
	if c.IsSet("port") {
		server.Port = c.Int("port")
	}
	if err := mgr.Connect(server.Host, server.Port); err != nil {
		log.Errorf("Failed to connect to INDI server: %v", err)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.Int("http-port")),
		Handler: api.NewServer(mgr, store, tmpl, reg, log.WithField("component", "api")).AddRoutes(),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Debugf("Server started on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", srv.Addr, err)
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx2); err != nil {
		return fmt.Errorf("server forced to shutdown: %v", err)
	}

	wg.Wait()
	mgr.Close()
	log.Info("Server stopped")
	return nil
}

// replay prints a recorded protocol trace.
func replay(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: %s replay <trace file>", c.App.Name)
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return fmt.Errorf("failed to open trace: %v", err)
	}
	defer f.Close()

	r := trace.NewReader(f)
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read trace: %v", err)
		}
		if conn := c.String("connection"); conn != "" && e.ConnectionID != conn {
			continue
		}
		fmt.Fprintf(c.App.Writer, "%s [%s] %s\n", e.Timestamp.Format(time.RFC3339Nano), e.ConnectionID, e)
	}
}

func main() {
	app := cli.App{
		Name:  "indi-client",
		Usage: "INDI client with HTTP control API",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:    "host",
				Usage:   "INDI server host (overrides the stored setting)",
				EnvVars: []string{"INDI_HOST"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "INDI server port (overrides the stored setting)",
				Value:   indi.DefaultPort,
				EnvVars: []string{"INDI_PORT"},
			},
			&cli.IntFlag{
				Name:    "http-port",
				Usage:   "Port the HTTP API listens on",
				Value:   8090,
				EnvVars: []string{"INDI_HTTP_PORT"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Settings database",
				Value:   "indi-client.db",
				EnvVars: []string{"INDI_DB"},
			},
			&cli.BoolFlag{
				Name:    "mqtt",
				Usage:   "Mirror devices and properties to the MQTT broker",
				EnvVars: []string{"INDI_MQTT"},
			},
			&cli.BoolFlag{
				Name:    "reconnect",
				Usage:   "Reconnect when the INDI server drops the connection",
				EnvVars: []string{"INDI_RECONNECT"},
			},
			&cli.StringFlag{
				Name:    "trace",
				Usage:   "Record the protocol trace to `FILE`",
				EnvVars: []string{"INDI_TRACE"},
			},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:      "replay",
				Usage:     "Print a recorded protocol trace",
				ArgsUsage: "<trace file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "connection",
						Usage: "Only print events of this connection ID",
					},
				},
				Action: replay,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
