package orchestrator

import (
	"context"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/kibala/provenance-agent/api"
	"github.com/kibala/provenance-agent/artifact"
	"github.com/kibala/provenance-agent/cryptoutils"
	"github.com/kibala/provenance-agent/interfaces"
	"github.com/kibala/provenance-agent/manifest"
	"github.com/kibala/provenance-agent/signing"
)

// Publisher uploads a signed artifact and returns the re-signed bytes.
type Publisher interface {
	Publish(ctx context.Context, path string) ([]byte, error)
}

// Config holds the fixed identity configuration of an agent.
type Config struct {
	// KeyTag identifies the device signing key. One key exists per tag.
	KeyTag interfaces.KeyTag

	// Identity is the subject profile bound into enrollment CSRs.
	Identity interfaces.EnrollmentIdentity

	// Profile supplies the manifest constants for created photos.
	Profile manifest.Profile

	// Metadata is attached to enrollment requests for the CA's records.
	Metadata map[string]string
}

// Agent coordinates the device's signing lifecycle.
type Agent struct {
	cfg       Config
	keys      interfaces.KeyStore
	cache     interfaces.CredentialCache
	enroller  api.EnrollmentProvider
	backend   interfaces.SigningBackend
	store     *artifact.Store
	publisher Publisher
	log       *slog.Logger

	// enrollMu serializes credential establishment for the agent's key tag.
	enrollMu   sync.Mutex
	processing atomic.Bool
}

// NewAgent wires an agent from its collaborators. publisher may be nil when
// the deployment has no gateway; Publish then fails cleanly.
func NewAgent(cfg Config, keys interfaces.KeyStore, cache interfaces.CredentialCache, enroller api.EnrollmentProvider, backend interfaces.SigningBackend, store *artifact.Store, publisher Publisher, log *slog.Logger) *Agent {
	return &Agent{
		cfg:       cfg,
		keys:      keys,
		cache:     cache,
		enroller:  enroller,
		backend:   backend,
		store:     store,
		publisher: publisher,
		log:       log,
	}
}

// ProcessingState reports whether a signing or publish operation is
// currently in flight.
func (a *Agent) ProcessingState() bool {
	return a.processing.Load()
}

// Sign embeds a signed provenance manifest into the JPEG at sourcePath and
// persists the result as a new artifact. The source file is never modified.
func (a *Agent) Sign(ctx context.Context, sourcePath string) (interfaces.SignedArtifact, error) {
	a.processing.Store(true)
	defer a.processing.Store(false)

	source, err := os.Open(sourcePath)
	if err != nil {
		return interfaces.SignedArtifact{}, fmt.Errorf("could not open source: %w", err)
	}
	defer source.Close()

	// Validate the input before enrolling or touching the key store, so a
	// bad input cannot trigger network traffic.
	header := make([]byte, 3)
	if _, err := io.ReadFull(source, header); err != nil || !signing.IsJPEG(header) {
		return interfaces.SignedArtifact{}, fmt.Errorf("%w: %s", interfaces.ErrJpegConversionFailed, sourcePath)
	}
	if _, err := source.Seek(0, io.SeekStart); err != nil {
		return interfaces.SignedArtifact{}, fmt.Errorf("could not rewind source: %w", err)
	}

	capability, err := a.ensureCapability(ctx)
	if err != nil {
		return interfaces.SignedArtifact{}, err
	}

	manifestJSON, err := manifest.NewCreated(a.cfg.Profile, time.Now()).Encode()
	if err != nil {
		return interfaces.SignedArtifact{}, err
	}

	pending := a.store.NewPending()
	dest, err := os.OpenFile(pending, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return interfaces.SignedArtifact{}, fmt.Errorf("could not create pending artifact: %w", err)
	}
	// The pending file only survives a successful commit, which moves it.
	defer os.Remove(pending)

	if err := a.runBackend(ctx, manifestJSON, source, dest, capability); err != nil {
		dest.Close()
		return interfaces.SignedArtifact{}, &interfaces.SigningError{Err: err}
	}
	if err := dest.Close(); err != nil {
		return interfaces.SignedArtifact{}, fmt.Errorf("could not finalize pending artifact: %w", err)
	}

	signed, err := a.store.Commit(ctx, pending)
	if err != nil {
		return interfaces.SignedArtifact{}, err
	}

	a.log.Info("Signed photo",
		slog.String("source", sourcePath),
		slog.String("artifact", signed.Name))

	return signed, nil
}

// runBackend executes the signing backend on a dedicated goroutine locked to
// its own OS thread. Completion is delivered exactly once over the buffered
// channel, so the worker never blocks after the caller gives up.
func (a *Agent) runBackend(ctx context.Context, manifestJSON []byte, source io.Reader, dest io.Writer, capability interfaces.SignerCapability) error {
	done := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		done <- a.backend.Build(ctx, manifestJSON, source, dest, capability)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish uploads the artifact at path to the gateway and persists the
// returned re-signed bytes verbatim as a new artifact.
func (a *Agent) Publish(ctx context.Context, path string) (interfaces.SignedArtifact, error) {
	if a.publisher == nil {
		return interfaces.SignedArtifact{}, errors.New("no gateway configured")
	}

	a.processing.Store(true)
	defer a.processing.Store(false)

	body, err := a.publisher.Publish(ctx, path)
	if err != nil {
		return interfaces.SignedArtifact{}, err
	}

	published, err := a.store.SaveBytes(ctx, body)
	if err != nil {
		return interfaces.SignedArtifact{}, err
	}

	a.log.Info("Persisted published artifact",
		slog.String("source", path),
		slog.String("artifact", published.Name))

	return published, nil
}

// Reset discards the device's signing identity: the cached chain and the
// private key. The next Sign call enrolls from scratch under a brand new
// key. Reset is idempotent; resetting an absent identity succeeds.
func (a *Agent) Reset(ctx context.Context) error {
	a.enrollMu.Lock()
	defer a.enrollMu.Unlock()

	if err := a.cache.Delete(ctx, a.cfg.KeyTag.CacheAccount()); err != nil {
		return fmt.Errorf("could not clear cached chain: %w", err)
	}
	if err := a.keys.DeleteKey(a.cfg.KeyTag); err != nil {
		return fmt.Errorf("could not delete signing key: %w", err)
	}

	a.log.Info("Reset signing identity", "tag", a.cfg.KeyTag.String())
	return nil
}

// Artifacts lists all persisted artifacts, newest first.
func (a *Agent) Artifacts(ctx context.Context) ([]interfaces.SignedArtifact, error) {
	return a.store.List(ctx)
}

// ensureCapability returns a ready-to-sign capability, enrolling with the CA
// if no usable chain is cached. The mutex makes credential establishment
// single-flight: a concurrent caller blocks here and then hits the cache.
func (a *Agent) ensureCapability(ctx context.Context) (interfaces.SignerCapability, error) {
	a.enrollMu.Lock()
	defer a.enrollMu.Unlock()

	handle, err := a.keys.EnsureKey(a.cfg.KeyTag)
	if err != nil {
		return interfaces.SignerCapability{}, err
	}

	account := a.cfg.KeyTag.CacheAccount()
	chain, err := a.cache.Load(ctx, account)
	if err == nil {
		expired, expErr := chain.IsExpired(time.Now())
		if expErr == nil && !expired {
			return a.capabilityFor(handle, chain)
		}
		// Expired or unparseable entries are treated as a miss.
		a.log.Info("Cached chain unusable, re-enrolling", "tag", a.cfg.KeyTag.String(), "expired", expired)
		if err := a.cache.Delete(ctx, account); err != nil {
			return interfaces.SignerCapability{}, fmt.Errorf("could not evict stale chain: %w", err)
		}
	} else if !errors.Is(err, interfaces.ErrChainNotFound) {
		return interfaces.SignerCapability{}, err
	}

	chain, err = a.enroll(ctx, handle)
	if err != nil {
		return interfaces.SignerCapability{}, err
	}
	return a.capabilityFor(handle, chain)
}

// enroll builds a CSR for the device key, exchanges it with the CA and
// caches the returned chain. Nothing is cached on failure.
func (a *Agent) enroll(ctx context.Context, handle interfaces.KeyHandle) (interfaces.CertificateChain, error) {
	signer, err := a.keys.Signer(handle)
	if err != nil {
		return nil, err
	}

	csr, err := cryptoutils.CreateCSR(signer, a.subject())
	if err != nil {
		return nil, err
	}

	_, chain, err := a.enroller.RequestCertificate(ctx, csr, a.cfg.Metadata)
	if err != nil {
		return nil, err
	}

	if err := a.cache.Save(ctx, a.cfg.KeyTag.CacheAccount(), chain); err != nil {
		return nil, fmt.Errorf("could not cache chain: %w", err)
	}

	return chain, nil
}

func (a *Agent) capabilityFor(handle interfaces.KeyHandle, chain interfaces.CertificateChain) (interfaces.SignerCapability, error) {
	signer, err := a.keys.Signer(handle)
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

func (a *Agent) subject() pkix.Name {
	name := pkix.Name{CommonName: a.cfg.Identity.CommonName}
	if a.cfg.Identity.Organization != "" {
		name.Organization = []string{a.cfg.Identity.Organization}
	}
	if a.cfg.Identity.Locality != "" {
		name.Locality = []string{a.cfg.Identity.Locality}
	}
	if a.cfg.Identity.Country != "" {
		name.Country = []string{a.cfg.Identity.Country}
	}
	return name
}
