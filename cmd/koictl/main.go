package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/koicert/registry/common/clients"
	"github.com/koicert/registry/common/logger"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "dev"

type metadata struct {
	client    *clients.RegistryClient
	principal string
	verbose   bool
}

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.ErrWriter, "terminated with error: %s\n", err)
		os.Exit(1)
	}
}

func newApp(w, e io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "koictl"
	app.Usage = "inspect and mutate koi certificates"
	app.Version = version

	app.Writer = w
	app.ErrWriter = e

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "registry, r",
			Value:  "http://localhost:8080",
			Usage:  " registry base `URL`",
			EnvVar: "KOI_REGISTRY_URL",
		},
		cli.StringFlag{
			Name:   "principal, p",
			Value:  "",
			Usage:  " acting wallet `ADDRESS` for mutations",
			EnvVar: "KOI_PRINCIPAL",
		},
		cli.DurationFlag{
			Name:  "timeout, t",
			Value: 2 * time.Minute,
			Usage: " request `TIMEOUT`",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: " log requests to stderr",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:      "get",
			Usage:     "show the current record",
			ArgsUsage: "ID",
			Action:    runGet,
		},
		{
			Name:      "history",
			Usage:     "show ownership and attribute history, newest first",
			ArgsUsage: "ID",
			Action:    runHistory,
		},
		{
			Name:      "pedigree",
			Usage:     "show the ancestor tree",
			ArgsUsage: "ID",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "depth, d",
					Value: 0,
					Usage: " generations to walk `COUNT` (0 = server default)",
				},
			},
			Action: runPedigree,
		},
		{
			Name:      "mint",
			Usage:     "mint a new certificate",
			ArgsUsage: "\n   (* = required)",
			Flags: append(attributeFlags(),
				cli.StringFlag{Name: "id, i", Usage: "*certificate `ID`"},
				cli.StringFlag{Name: "photo", Usage: "*photo `FILE`"},
				cli.StringFlag{Name: "cert", Usage: " certificate document `FILE`"},
				cli.StringFlag{Name: "contest", Usage: " contest document `FILE`"},
				cli.StringFlag{Name: "issuer-name", Usage: " issuer display `NAME`"},
				cli.StringFlag{Name: "father", Usage: " father certificate `ID`"},
				cli.StringFlag{Name: "mother", Usage: " mother certificate `ID`"},
			),
			Action: runMint,
		},
		{
			Name:      "transfer",
			Usage:     "transfer a certificate to a new owner",
			ArgsUsage: "ID\n   (* = required)",
			Flags: append(attributeFlags(),
				cli.StringFlag{Name: "to", Usage: "*new owner `ADDRESS`"},
				cli.StringFlag{Name: "to-name", Usage: " new owner display `NAME`"},
				cli.StringFlag{Name: "note, n", Usage: "*transfer `NOTE`"},
				cli.StringFlag{Name: "photo", Usage: " replacement photo `FILE`"},
			),
			Action: runTransfer,
		},
		{
			Name:      "update",
			Usage:     "update attributes or attach documents",
			ArgsUsage: "ID\n   (* = required)",
			Flags: append(attributeFlags(),
				cli.StringFlag{Name: "note, n", Usage: "*update `NOTE`"},
				cli.StringFlag{Name: "photo", Usage: " replacement photo `FILE`"},
				cli.StringFlag{Name: "cert", Usage: " certificate document `FILE`"},
				cli.StringFlag{Name: "contest", Usage: " contest document `FILE`"},
			),
			Action: runUpdate,
		},
	}

	app.Before = func(c *cli.Context) error {
		level := "error"
		if c.GlobalBool("verbose") {
			level = "debug"
		}
		log := logger.NewWithWriter(c.App.ErrWriter, level, "text")

		c.App.Metadata["config"] = &metadata{
			client:    clients.NewRegistryClient(c.GlobalString("registry"), c.GlobalDuration("timeout"), log),
			principal: c.GlobalString("principal"),
			verbose:   c.GlobalBool("verbose"),
		}
		return nil
	}

	return app
}

func attributeFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "variety", Usage: " koi `VARIETY`"},
		cli.StringFlag{Name: "breeder", Usage: " breeder `NAME`"},
		cli.StringFlag{Name: "gender", Usage: " `GENDER`"},
		cli.StringFlag{Name: "age", Usage: " age `LABEL`"},
		cli.StringFlag{Name: "condition", Usage: " condition `NOTE`"},
		cli.StringFlag{Name: "size-cm", Usage: " size in `CM`"},
	}
}

func meta(c *cli.Context) *metadata {
	return c.App.Metadata["config"].(*metadata)
}

// mutationContext carries the acting principal, required for every mutation
func mutationContext(m *metadata) (context.Context, error) {
	if m.principal == "" {
		return nil, ErrPrincipalRequired
	}
	return clients.WithPrincipal(context.Background(), m.principal), nil
}
