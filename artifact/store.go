package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kibala/provenance-agent/interfaces"
)

const (
	pendingPrefix     = ".pending-"
	artifactExtension = ".jpg"
	timestampLayout   = "20060102_150405"
)

// Store persists signed artifacts in a durable app-private directory.
type Store struct {
	baseDir string
	prefix  string
	log     *slog.Logger
	mirrors []interfaces.ArtifactBackend
}

// NewStore creates an artifact store rooted at baseDir. prefix is the
// filename prefix for all artifacts (e.g. "Kibala").
func NewStore(baseDir, prefix string, log *slog.Logger, mirrors ...interfaces.ArtifactBackend) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &Store{baseDir: baseDir, prefix: prefix, log: log, mirrors: mirrors}, nil
}

// NewPending returns a path inside the store directory for writing an
// artifact's bytes before commit. Keeping pending files on the same
// filesystem guarantees Commit is a rename, never a copy.
func (s *Store) NewPending() string {
	return filepath.Join(s.baseDir, pendingPrefix+uuid.NewString())
}

// Commit moves a fully written pending file to its final artifact name and
// triggers best-effort mirroring. The rename is atomic on POSIX
// filesystems, so a final path never holds partial bytes.
func (s *Store) Commit(ctx context.Context, pendingPath string) (interfaces.SignedArtifact, error) {
	info, err := os.Stat(pendingPath)
	if err != nil {
		return interfaces.SignedArtifact{}, fmt.Errorf("pending artifact missing: %w", err)
	}
	if info.Size() == 0 {
		return interfaces.SignedArtifact{}, fmt.Errorf("pending artifact %s is empty", pendingPath)
	}

	name := s.newName()
	finalPath := filepath.Join(s.baseDir, name)
	if err := os.Rename(pendingPath, finalPath); err != nil {
		return interfaces.SignedArtifact{}, fmt.Errorf("failed to move artifact into place: %w", err)
	}

	artifact := interfaces.SignedArtifact{
		Path:      finalPath,
		Name:      name,
		Size:      info.Size(),
		CreatedAt: time.Now(),
	}

	s.log.Info("Persisted signed artifact", "name", name, "size", info.Size())
	s.mirror(ctx, artifact)

	return artifact, nil
}

// SaveBytes persists data verbatim as a new artifact. Used by the gateway
// publish path, where the response body must land on disk byte-for-byte.
func (s *Store) SaveBytes(ctx context.Context, data []byte) (interfaces.SignedArtifact, error) {
	if len(data) == 0 {
		return interfaces.SignedArtifact{}, fmt.Errorf("refusing to persist empty artifact")
	}

	pending := s.NewPending()
	if err := os.WriteFile(pending, data, 0600); err != nil {
		return interfaces.SignedArtifact{}, fmt.Errorf("failed to write pending artifact: %w", err)
	}
	return s.Commit(ctx, pending)
}

// List enumerates all committed artifacts by reading the directory, newest
// name first. Pending files are excluded.
func (s *Store) List(ctx context.Context) ([]interfaces.SignedArtifact, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifact directory: %w", err)
	}

	var artifacts []interfaces.SignedArtifact
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, s.prefix+"_") || !strings.HasSuffix(name, artifactExtension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, interfaces.SignedArtifact{
			Path:      filepath.Join(s.baseDir, name),
			Name:      name,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name > artifacts[j].Name })
	return artifacts, nil
}

// newName builds Prefix_<yyyyMMdd_HHmmss>_<randomsuffix>.jpg. The random
// suffix keeps names unique when several artifacts land within one second.
func (s *Store) newName() string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s_%s_%s%s", s.prefix, time.Now().UTC().Format(timestampLayout), suffix, artifactExtension)
}

// mirror uploads a committed artifact to all available mirror backends.
// Failures are logged, never propagated: the local file is authoritative.
func (s *Store) mirror(ctx context.Context, artifact interfaces.SignedArtifact) {
	if len(s.mirrors) == 0 {
		return
	}

	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		s.log.Warn("Could not read artifact for mirroring", "name", artifact.Name, "err", err)
		return
	}

	for _, backend := range s.mirrors {
		if !backend.Available(ctx) {
			s.log.Debug("Mirror backend unavailable", "backend", backend.Name())
			continue
		}
		if err := backend.Mirror(ctx, artifact.Name, data); err != nil {
			s.log.Warn("Mirror upload failed",
				slog.String("backend", backend.Name()),
				slog.String("name", artifact.Name),
				"err", err)
			continue
		}
		s.log.Debug("Mirrored artifact", "backend", backend.Name(), "name", artifact.Name)
	}
}
