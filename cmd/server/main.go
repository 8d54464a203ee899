// The server command runs the provenance backend: the certificate authority
// that enrolls devices and the gateway that verifies and republishes signed
// photos.
package main

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/kibala/provenance-agent/api/cahandler"
	"github.com/kibala/provenance-agent/api/gatewayhandler"
	"github.com/kibala/provenance-agent/common"
	"github.com/kibala/provenance-agent/cryptoutils"
	"github.com/kibala/provenance-agent/httpserver"
	"github.com/kibala/provenance-agent/interfaces"
	"github.com/kibala/provenance-agent/keystore"
	"github.com/kibala/provenance-agent/manifest"
	"github.com/kibala/provenance-agent/signing"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:  "data-dir",
		Value: "./server-data",
		Usage: "directory for the root CA material and the gateway signing key",
	},
	&cli.StringFlag{
		Name:  "ca-cert",
		Value: "",
		Usage: "PEM file with the root CA certificate (generated under data-dir when empty)",
	},
	&cli.StringFlag{
		Name:  "ca-key",
		Value: "",
		Usage: "PEM file with the root CA private key (generated under data-dir when empty)",
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
	&cli.StringFlag{
		Name:  "log-service",
		Value: "provenance-server",
		Usage: "add 'service' tag to logs",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	godotenv.Load()

	app := &cli.App{
		Name:  "provenance-server",
		Usage: "Serve the device CA and the publish gateway",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   cCtx.Bool("log-debug"),
				JSON:    cCtx.Bool("log-json"),
				Service: cCtx.String("log-service"),
				Version: common.Version,
			})

			dataDir := cCtx.String("data-dir")
			if err := os.MkdirAll(dataDir, 0700); err != nil {
				logger.Error("Failed to create data directory", "err", err)
				return err
			}

			rootCert, rootKey, err := loadOrCreateRoot(cCtx.String("ca-cert"), cCtx.String("ca-key"), dataDir)
			if err != nil {
				logger.Error("Failed to initialize root CA", "err", err)
				return err
			}
			ca := cahandler.NewCA(rootCert, rootKey, logger)
			logger.Info("Root CA ready", "subject", rootCert.Subject.CommonName)

			// The gateway signs with a store-held key certified by the same CA.
			capability, err := gatewayCapability(ca, dataDir, logger)
			if err != nil {
				logger.Error("Failed to initialize gateway identity", "err", err)
				return err
			}

			caHandler := cahandler.NewHandler(ca, logger)
			gwHandler := gatewayhandler.NewHandler(capability, signing.NewEmbedder(logger), ca.Root(), manifest.DefaultProfile, logger)

			cfg := &httpserver.HTTPServerConfig{
				ListenAddr:               cCtx.String("listen-addr"),
				Log:                      logger,
				EnablePprof:              cCtx.Bool("pprof"),
				DrainDuration:            time.Duration(cCtx.Int64("drain-seconds")) * time.Second,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             60 * time.Second,
			}

			server, err := httpserver.New(cfg, caHandler, gwHandler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadOrCreateRoot loads the root CA from the given PEM files, or generates
// a fresh root under dataDir when no files are configured. The generated
// certificate is written out so devices can be provisioned with it.
func loadOrCreateRoot(certPath, keyPath, dataDir string) (*x509.Certificate, crypto.Signer, error) {
	if certPath != "" && keyPath != "" {
		return loadRoot(certPath, keyPath)
	}

	certPath = filepath.Join(dataDir, "root-ca.pem")
	keyPath = filepath.Join(dataDir, "root-ca.key")
	if _, err := os.Stat(certPath); err == nil {
		return loadRoot(certPath, keyPath)
	}

	cert, signer, err := cahandler.GenerateRootCA("Kibala Root CA")
	if err != nil {
		return nil, nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return nil, nil, fmt.Errorf("could not write root certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(signer.(*ecdsa.PrivateKey))
	if err != nil {
		return nil, nil, fmt.Errorf("could not marshal root key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return nil, nil, fmt.Errorf("could not write root key: %w", err)
	}

	return cert, signer, nil
}

func loadRoot(certPath, keyPath string) (*x509.Certificate, crypto.Signer, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, fmt.Errorf("could not read root certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, nil, errors.New("root certificate file is not a PEM certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("could not parse root certificate: %w", err)
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("could not read root key: %w", err)
	}
	block, _ = pem.Decode(keyPEM)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, nil, errors.New("root key file is not a PEM private key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("could not parse root key: %w", err)
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, nil, errors.New("root key does not support signing")
	}

	return cert, signer, nil
}

// gatewayCapability ensures the gateway's signing key exists and holds a
// certificate issued by the CA.
func gatewayCapability(ca *cahandler.CA, dataDir string, logger *slog.Logger) (interfaces.SignerCapability, error) {
	keys, err := keystore.NewSoftKeyStore(filepath.Join(dataDir, "keys"), logger)
	if err != nil {
		return interfaces.SignerCapability{}, err
	}

	tag := interfaces.KeyTag("gateway.signing")
	handle, err := keys.EnsureKey(tag)
	if err != nil {
		return interfaces.SignerCapability{}, err
	}
	signer, err := keys.Signer(handle)
	if err != nil {
		return interfaces.SignerCapability{}, err
	}

	csr, err := cryptoutils.CreateCSR(signer, pkix.Name{CommonName: "Kibala Gateway", Organization: []string{"Kibala"}})
	if err != nil {
		return interfaces.SignerCapability{}, err
	}
	chain, _, err := ca.SignCSR(csr)
	if err != nil {
		return interfaces.SignerCapability{}, err
	}

	return interfaces.SignerCapability{
		Algorithm: interfaces.ES256,
		Handle:    handle,
		Signer:    signer,
		Chain:     chain,
	}, nil
}
