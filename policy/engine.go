package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lakowske/podserve/interfaces"
)

const (
	publicFileMode = os.FileMode(0644)
	keyFileMode    = os.FileMode(0640)
	// keyLockedMode applies when no consumer is registered for the key.
	keyLockedMode = os.FileMode(0600)
	dirMode       = os.FileMode(0755)
)

// Engine implements interfaces.AccessPolicy.
type Engine struct {
	ops    FileOps
	groups GroupResolver
	log    *slog.Logger
}

// NewEngine creates an engine backed by the real filesystem and host user
// database.
func NewEngine(log *slog.Logger) *Engine {
	return NewEngineWith(OSFileOps{}, OSGroupResolver{}, log)
}

// NewEngineWith creates an engine with explicit FileOps and GroupResolver,
// used by tests.
func NewEngineWith(ops FileOps, groups GroupResolver, log *slog.Logger) *Engine {
	return &Engine{ops: ops, groups: groups, log: log}
}

// Apply sets ownership and modes on the bundle files in dir for the given
// consumers. The group for the private key is decided before anything is
// mutated, so a ErrNoCommonGroup failure leaves the bundle untouched.
func (e *Engine) Apply(ctx context.Context, domain string, dir string, consumers []interfaces.ConsumerRegistration) error {
	keyGID, keyMode, err := e.keyAccess(domain, consumers)
	if err != nil {
		return err
	}

	changed := 0

	// The bundle directory must be traversable by every consumer.
	n, err := e.ensure(dir, -1, dirMode)
	if err != nil {
		return err
	}
	changed += n

	for _, name := range []string{interfaces.CertFileName, interfaces.FullChainFileName} {
		n, err := e.ensure(filepath.Join(dir, name), -1, publicFileMode)
		if err != nil {
			return err
		}
		changed += n
	}

	n, err = e.ensure(filepath.Join(dir, interfaces.KeyFileName), keyGID, keyMode)
	if err != nil {
		return err
	}
	changed += n

	if changed == 0 {
		e.log.Debug("Bundle permissions already correct", slog.String("domain", domain))
		return nil
	}

	e.log.Info("Applied bundle permissions",
		slog.String("domain", domain),
		slog.Int("key_gid", keyGID),
		slog.String("key_mode", keyMode.String()),
		slog.Int("changes", changed))
	return nil
}

// keyAccess decides the private key's group and mode. With no registered
// key consumers the key stays locked to its owner and the group is left
// unchanged (returned as -1).
func (e *Engine) keyAccess(domain string, consumers []interfaces.ConsumerRegistration) (int, os.FileMode, error) {
	var keyConsumers []interfaces.ConsumerRegistration
	for _, c := range consumers {
		if c.NeedsPrivateKey {
			keyConsumers = append(keyConsumers, c)
		}
	}
	if len(keyConsumers) == 0 {
		return -1, keyLockedMode, nil
	}

	common := e.groupSet(keyConsumers[0])
	for _, c := range keyConsumers[1:] {
		common = intersect(common, e.groupSet(c))
	}

	if len(common) == 0 {
		names := make([]string, len(keyConsumers))
		for i, c := range keyConsumers {
			names[i] = c.ServiceName
		}
		return 0, 0, fmt.Errorf("%w: %s consumers %s", interfaces.ErrNoCommonGroup, domain, strings.Join(names, ", "))
	}

	// Prefer a consumer's registered primary group when every key consumer
	// shares it; otherwise the lowest shared GID, so the choice is stable
	// across runs.
	for _, c := range keyConsumers {
		if common[c.GID] {
			return c.GID, keyFileMode, nil
		}
	}
	min := -1
	for gid := range common {
		if min < 0 || gid < min {
			min = gid
		}
	}
	return min, keyFileMode, nil
}

// groupSet returns every group the consumer belongs to: its registered
// primary group plus host memberships. Consumers unknown to the host user
// database, common when they live in sibling containers, count only their
// registered group.
func (e *Engine) groupSet(c interfaces.ConsumerRegistration) map[int]bool {
	set := map[int]bool{c.GID: true}

	gids, err := e.groups.GroupIDs(c.UID)
	if err != nil {
		e.log.Debug("No host group memberships for consumer",
			slog.String("service", c.ServiceName),
			slog.Int("uid", c.UID),
			"err", err)
		return set
	}
	for _, gid := range gids {
		set[gid] = true
	}
	return set
}

// ensure brings one path to the wanted group and mode, mutating only on
// observed mismatch. Returns the number of changes made. A gid of -1 leaves
// the group alone.
func (e *Engine) ensure(path string, gid int, mode os.FileMode) (int, error) {
	st, err := e.ops.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", interfaces.ErrPermissionApply, path, err)
	}

	changed := 0

	// Group changes first so a widened group bit never exposes the key to
	// the previous group.
	if gid >= 0 && st.GID != gid {
		if err := e.ops.Chown(path, -1, gid); err != nil {
			return changed, fmt.Errorf("%w: chown %s: %v", interfaces.ErrPermissionApply, path, err)
		}
		changed++
	}
	if st.Mode != mode {
		if err := e.ops.Chmod(path, mode); err != nil {
			return changed, fmt.Errorf("%w: chmod %s: %v", interfaces.ErrPermissionApply, path, err)
		}
		changed++
	}
	return changed, nil
}

func intersect(a, b map[int]bool) map[int]bool {
	out := make(map[int]bool)
	for gid := range a {
		if b[gid] {
			out[gid] = true
		}
	}
	return out
}
