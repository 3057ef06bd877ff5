// Package notify signals consumer processes that a certificate bundle
// generation has been published and fully distributed, and answers
// readiness probes derived from those signals.
//
// The notifier is deliberately passive: it maintains one marker file per
// domain under <root>/.notify, rewritten atomically after each
// distribution. Consumers either watch the marker for changes or compare
// its generation against the one they loaded. Delivery is at-least-once; a
// marker carries the generation and a unique notification id so repeated
// writes for the same generation are harmless.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/lakowske/podserve/interfaces"
)

const notifyDirName = ".notify"

// marker is the on-disk notification record for one domain.
type marker struct {
	Domain         string    `toml:"domain"`
	Generation     uint64    `toml:"generation"`
	NotificationID string    `toml:"notification_id"`
	NotifiedAt     time.Time `toml:"notified_at"`
}

// MarkerNotifier implements interfaces.ChangeNotifier with per-domain
// marker files under the bundle root.
type MarkerNotifier struct {
	dir string
	log *slog.Logger
}

// NewMarkerNotifier creates the marker directory under root if missing.
func NewMarkerNotifier(root string, log *slog.Logger) (*MarkerNotifier, error) {
	dir := filepath.Join(root, notifyDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create notify directory: %w", err)
	}
	return &MarkerNotifier{dir: dir, log: log}, nil
}

// Notify atomically rewrites the domain's marker with the given generation.
func (n *MarkerNotifier) Notify(ctx context.Context, domain string, generation uint64) error {
	data, err := toml.Marshal(marker{
		Domain:         domain,
		Generation:     generation,
		NotificationID: uuid.Must(uuid.NewRandom()).String(),
		NotifiedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: encoding marker: %v", interfaces.ErrWriteFailed, err)
	}

	tmp, err := os.CreateTemp(n.dir, domain+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(n.dir, domain)); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrWriteFailed, err)
	}

	n.log.Debug("Recorded change notification",
		slog.String("domain", domain),
		slog.Uint64("generation", generation))
	return nil
}

// LastNotified returns the generation recorded in the domain's marker.
// Returns ErrBundleNotFound when no notification was ever recorded.
func (n *MarkerNotifier) LastNotified(domain string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(n.dir, domain))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: no notification for %s", interfaces.ErrBundleNotFound, domain)
		}
		return 0, err
	}

	var m marker
	if err := toml.Unmarshal(data, &m); err != nil {
		return 0, fmt.Errorf("malformed notification marker for %s: %w", domain, err)
	}
	if m.Domain != domain {
		return 0, fmt.Errorf("notification marker names %s, expected %s", m.Domain, domain)
	}
	return m.Generation, nil
}
