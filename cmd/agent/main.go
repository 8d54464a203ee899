// The agent command is the device-side CLI: it signs photos with a
// provenance manifest, publishes them through the gateway, lists the local
// artifacts, and resets the device's signing identity.
package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/kibala/provenance-agent/api/cahandler"
	"github.com/kibala/provenance-agent/api/gatewayhandler"
	"github.com/kibala/provenance-agent/artifact"
	"github.com/kibala/provenance-agent/common"
	"github.com/kibala/provenance-agent/credcache"
	"github.com/kibala/provenance-agent/interfaces"
	"github.com/kibala/provenance-agent/keystore"
	"github.com/kibala/provenance-agent/orchestrator"
	"github.com/kibala/provenance-agent/signing"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Value: "",
		Usage: "path to YAML config file",
	},
	&cli.StringFlag{
		Name:  "ca-url",
		Value: "",
		Usage: "base URL of the certificate authority",
	},
	&cli.StringFlag{
		Name:  "gateway-url",
		Value: "",
		Usage: "base URL of the publish gateway (optional)",
	},
	&cli.StringFlag{
		Name:  "data-dir",
		Value: "",
		Usage: "directory for keys, credentials and artifacts (default ./agent-data)",
	},
	&cli.StringFlag{
		Name:  "cache-uri",
		Value: "",
		Usage: "credential cache location (file:// or vault://, default file under data-dir)",
	},
	&cli.StringFlag{
		Name:  "mirrors",
		Value: "",
		Usage: "comma-separated artifact mirror URIs (s3://, ipfs://)",
	},
	&cli.StringFlag{
		Name:  "key-tag",
		Value: "",
		Usage: "device signing key tag (default device.signing)",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
}

func main() {
	godotenv.Load()

	app := &cli.App{
		Name:  "provenance-agent",
		Usage: "Sign, publish and manage provenance-attested photos",
		Flags: flags,
		Commands: []*cli.Command{
			{
				Name:      "sign",
				Usage:     "sign one or more JPEG photos",
				ArgsUsage: "<photo.jpg> [...]",
				Action:    runSign,
			},
			{
				Name:      "publish",
				Usage:     "publish a signed artifact through the gateway",
				ArgsUsage: "<artifact.jpg>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "latest",
						Usage: "publish the newest artifact instead of a named one",
					},
				},
				Action: runPublish,
			},
			{
				Name:   "artifacts",
				Usage:  "list signed artifacts, newest first",
				Action: runArtifacts,
			},
			{
				Name:   "reset",
				Usage:  "discard the signing key and cached credentials",
				Action: runReset,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// buildAgent wires the orchestrator from config file and flag overrides.
func buildAgent(cCtx *cli.Context) (*orchestrator.Agent, *slog.Logger, error) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool("log-debug"),
		JSON:    cCtx.Bool("log-json"),
		Service: common.PackageName,
		Version: common.Version,
	})

	cfg, err := loadConfig(cCtx.String("config"))
	if err != nil {
		return nil, nil, err
	}

	override := func(dst *string, flag string) {
		if v := cCtx.String(flag); v != "" {
			*dst = v
		}
	}
	override(&cfg.CAURL, "ca-url")
	override(&cfg.GatewayURL, "gateway-url")
	override(&cfg.DataDir, "data-dir")
	override(&cfg.CacheURI, "cache-uri")
	override(&cfg.MirrorURIs, "mirrors")
	override(&cfg.KeyTag, "key-tag")

	if cfg.CAURL == "" {
		return nil, nil, errors.New("ca-url is required (flag or config file)")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./agent-data"
	}
	if cfg.CacheURI == "" {
		cfg.CacheURI = "file://" + filepath.Join(cfg.DataDir, "credentials")
	}
	if cfg.KeyTag == "" {
		cfg.KeyTag = "device.signing"
	}
	if cfg.Identity.CommonName == "" {
		cfg.Identity.CommonName = "Kibala Device"
	}

	tag, err := interfaces.NewKeyTag(cfg.KeyTag)
	if err != nil {
		return nil, nil, err
	}

	keys, err := keystore.NewSoftKeyStore(filepath.Join(cfg.DataDir, "keys"), logger)
	if err != nil {
		return nil, nil, err
	}

	cache, err := credcache.CacheFor(cfg.CacheURI, logger)
	if err != nil {
		return nil, nil, err
	}

	enroller, err := cahandler.NewClient(cfg.CAURL, logger)
	if err != nil {
		return nil, nil, err
	}

	mirrors, err := artifact.MirrorsFor(cfg.MirrorURIs, logger)
	if err != nil {
		return nil, nil, err
	}
	store, err := artifact.NewStore(filepath.Join(cfg.DataDir, "artifacts"), "Kibala", logger, mirrors...)
	if err != nil {
		return nil, nil, err
	}

	var publisher orchestrator.Publisher
	if cfg.GatewayURL != "" {
		client, err := gatewayhandler.NewClient(cfg.GatewayURL, logger)
		if err != nil {
			return nil, nil, err
		}
		publisher = client
	}

	agent := orchestrator.NewAgent(
		orchestrator.Config{
			KeyTag: tag,
			Identity: interfaces.EnrollmentIdentity{
				CommonName:   cfg.Identity.CommonName,
				Organization: cfg.Identity.Organization,
				Locality:     cfg.Identity.Locality,
				Country:      cfg.Identity.Country,
			},
			Profile:  cfg.profile(),
			Metadata: map[string]string{"agent": common.PackageName + "/" + common.Version},
		},
		keys, cache, enroller,
		signing.NewEmbedder(logger),
		store, publisher, logger,
	)

	return agent, logger, nil
}

func runSign(cCtx *cli.Context) error {
	if cCtx.NArg() == 0 {
		return errors.New("sign requires at least one photo path")
	}

	agent, logger, err := buildAgent(cCtx)
	if err != nil {
		return err
	}

	for _, path := range cCtx.Args().Slice() {
		signed, err := agent.Sign(cCtx.Context, path)
		if err != nil {
			logger.Error("Signing failed", "source", path, "err", err)
			return err
		}
		fmt.Println(signed.Path)
	}
	return nil
}

func runPublish(cCtx *cli.Context) error {
	agent, logger, err := buildAgent(cCtx)
	if err != nil {
		return err
	}

	var path string
	switch {
	case cCtx.Bool("latest"):
		artifacts, err := agent.Artifacts(cCtx.Context)
		if err != nil {
			return err
		}
		if len(artifacts) == 0 {
			return errors.New("no artifacts to publish")
		}
		path = artifacts[0].Path
	case cCtx.NArg() == 1:
		path = cCtx.Args().First()
	default:
		return errors.New("publish requires an artifact path or --latest")
	}

	published, err := agent.Publish(cCtx.Context, path)
	if err != nil {
		logger.Error("Publish failed", "artifact", path, "err", err)
		return err
	}
	fmt.Println(published.Path)
	return nil
}

func runArtifacts(cCtx *cli.Context) error {
	agent, _, err := buildAgent(cCtx)
	if err != nil {
		return err
	}

	artifacts, err := agent.Artifacts(cCtx.Context)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		fmt.Printf("%s\t%d\t%s\n", a.Name, a.Size, a.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runReset(cCtx *cli.Context) error {
	agent, logger, err := buildAgent(cCtx)
	if err != nil {
		return err
	}

	if err := agent.Reset(cCtx.Context); err != nil {
		return err
	}
	logger.Info("Signing identity reset")
	return nil
}
