// Command actio runs a service node or calls an endpoint on one.
//
//	actio --config node.yaml serve
//	actio call http://localhost:8080 key-value get '{"namespace":"home","key":"theme"}'
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/crufters/actio"
	"github.com/crufters/actio/config"
	"github.com/crufters/actio/server"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "actio",
		Usage:   "service mesh node",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				EnvVars: []string{"ACTIO_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "serve the registered services over HTTP",
				Action: serve,
			},
			{
				Name:      "call",
				Usage:     "call an endpoint on a node and print the response",
				ArgsUsage: "<address> <service> <endpoint> [json]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "namespace",
						Aliases: []string{"n"},
						Value:   actio.DefaultNamespace,
						Usage:   "namespace to call in",
					},
				},
				Action: call,
			},
		},
	}
}

func serve(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)

	container, err := buildContainer(cfg)
	if err != nil {
		return err
	}
	return container.Invoke(func(engine *gin.Engine, inj *actio.Injector, logger *slog.Logger) error {
		defer func() {
			if err := inj.Close(); err != nil {
				logger.Error("closing injector", "error", err)
			}
		}()

		logger.Info("node starting",
			"id", inj.NodeID(),
			"listen", cfg.Node.Listen,
			"services", inj.AvailableClassNames(),
			"remote", inj.Addresses().Names(),
		)
		err := server.ListenAndServe(c.Context, cfg.Node.Listen, engine)
		logger.Info("node stopped")
		return err
	})
}

func call(c *cli.Context) error {
	if c.NArg() < 3 {
		return cli.Exit("usage: actio call <address> <service> <endpoint> [json]", 2)
	}
	address, service, endpoint := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)
	body := []byte(c.Args().Get(3))

	out, err := actio.NewHTTPCaller(nil).Do(c.Context, address, service, endpoint, c.String("namespace"), body)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	_, err = fmt.Fprintln(c.App.Writer, string(out))
	return err
}
