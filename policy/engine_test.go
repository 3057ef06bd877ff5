package policy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakowske/podserve/interfaces"
)

type fakeFS struct {
	files map[string]FileState
	ops   []string
}

func (f *fakeFS) Stat(path string) (FileState, error) {
	st, ok := f.files[path]
	if !ok {
		return FileState{}, os.ErrNotExist
	}
	return st, nil
}

func (f *fakeFS) Chown(path string, uid, gid int) error {
	st := f.files[path]
	if uid >= 0 {
		st.UID = uid
	}
	if gid >= 0 {
		st.GID = gid
	}
	f.files[path] = st
	f.ops = append(f.ops, fmt.Sprintf("chown %s %d:%d", filepath.Base(path), uid, gid))
	return nil
}

func (f *fakeFS) Chmod(path string, mode os.FileMode) error {
	st := f.files[path]
	st.Mode = mode
	f.files[path] = st
	f.ops = append(f.ops, fmt.Sprintf("chmod %s %o", filepath.Base(path), mode))
	return nil
}

type fakeGroups map[int][]int

func (g fakeGroups) GroupIDs(uid int) ([]int, error) {
	gids, ok := g[uid]
	if !ok {
		return nil, fmt.Errorf("unknown uid %d", uid)
	}
	return gids, nil
}

const bundleDir = "/certs/test.local"

// canRead applies standard unix permission checks for a process with the
// given identity.
func canRead(st FileState, uid int, gids []int) bool {
	if uid == st.UID {
		return st.Mode&0400 != 0
	}
	for _, gid := range gids {
		if gid == st.GID {
			return st.Mode&0040 != 0
		}
	}
	return st.Mode&0004 != 0
}

// newBundleFS seeds the state the store leaves behind right after a
// publication: public files world readable, key locked to its owner.
func newBundleFS() *fakeFS {
	return &fakeFS{files: map[string]FileState{
		bundleDir: {UID: 0, GID: 0, Mode: 0755},
		filepath.Join(bundleDir, interfaces.CertFileName):      {UID: 0, GID: 0, Mode: 0644},
		filepath.Join(bundleDir, interfaces.FullChainFileName): {UID: 0, GID: 0, Mode: 0644},
		filepath.Join(bundleDir, interfaces.KeyFileName):       {UID: 0, GID: 0, Mode: 0600},
	}}
}

func newTestEngine(fs *fakeFS, groups fakeGroups) *Engine {
	return NewEngineWith(fs, groups, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestApplySharedSupplementaryGroup(t *testing.T) {
	fs := newBundleFS()
	engine := newTestEngine(fs, fakeGroups{
		1001: {1001, 1100},
		1002: {1002, 1100},
	})

	consumers := []interfaces.ConsumerRegistration{
		{ServiceName: "web", UID: 1001, GID: 1001, NeedsPrivateKey: true},
		{ServiceName: "mail", UID: 1002, GID: 1002, NeedsPrivateKey: true},
	}

	err := engine.Apply(context.Background(), "test.local", bundleDir, consumers)
	require.NoError(t, err)

	key := fs.files[filepath.Join(bundleDir, interfaces.KeyFileName)]
	assert.Equal(t, 1100, key.GID)
	assert.Equal(t, os.FileMode(0640), key.Mode)

	cert := fs.files[filepath.Join(bundleDir, interfaces.CertFileName)]
	assert.Equal(t, os.FileMode(0644), cert.Mode)

	// Both consumers can now read the key through the shared group; an
	// unrelated identity cannot.
	assert.True(t, canRead(key, 1001, []int{1001, 1100}))
	assert.True(t, canRead(key, 1002, []int{1002, 1100}))
	assert.False(t, canRead(key, 2000, []int{2000}))
	assert.True(t, canRead(cert, 2000, []int{2000}))

	assert.Equal(t, []string{
		"chown privkey.pem -1:1100",
		"chmod privkey.pem 640",
	}, fs.ops)
}

func TestApplyIsIdempotent(t *testing.T) {
	fs := newBundleFS()
	engine := newTestEngine(fs, fakeGroups{
		1001: {1001, 1100},
		1002: {1002, 1100},
	})
	consumers := []interfaces.ConsumerRegistration{
		{ServiceName: "web", UID: 1001, GID: 1001, NeedsPrivateKey: true},
		{ServiceName: "mail", UID: 1002, GID: 1002, NeedsPrivateKey: true},
	}

	require.NoError(t, engine.Apply(context.Background(), "test.local", bundleDir, consumers))
	opsAfterFirst := len(fs.ops)
	require.NoError(t, engine.Apply(context.Background(), "test.local", bundleDir, consumers))

	assert.Equal(t, opsAfterFirst, len(fs.ops), "second apply must not touch the filesystem")
}

func TestApplyNoCommonGroup(t *testing.T) {
	fs := newBundleFS()
	engine := newTestEngine(fs, fakeGroups{
		1001: {1001},
		1002: {1002},
	})
	consumers := []interfaces.ConsumerRegistration{
		{ServiceName: "web", UID: 1001, GID: 1001, NeedsPrivateKey: true},
		{ServiceName: "mail", UID: 1002, GID: 1002, NeedsPrivateKey: true},
	}

	err := engine.Apply(context.Background(), "test.local", bundleDir, consumers)
	require.ErrorIs(t, err, interfaces.ErrNoCommonGroup)
	assert.Contains(t, err.Error(), "web")
	assert.Contains(t, err.Error(), "mail")

	// Access was not widened to work around the failure.
	assert.Empty(t, fs.ops)
	key := fs.files[filepath.Join(bundleDir, interfaces.KeyFileName)]
	assert.Equal(t, os.FileMode(0600), key.Mode)
	assert.Equal(t, 0, key.GID)
}

func TestApplyPrefersRegisteredPrimaryGroup(t *testing.T) {
	fs := newBundleFS()
	// Both 2000 and 800 are shared; 2000 is a registered primary group and
	// wins over the numerically lower 800.
	engine := newTestEngine(fs, fakeGroups{
		1001: {2000, 800},
		1002: {900, 2000, 800},
	})
	consumers := []interfaces.ConsumerRegistration{
		{ServiceName: "web", UID: 1001, GID: 2000, NeedsPrivateKey: true},
		{ServiceName: "mail", UID: 1002, GID: 900, NeedsPrivateKey: true},
	}

	require.NoError(t, engine.Apply(context.Background(), "test.local", bundleDir, consumers))
	assert.Equal(t, 2000, fs.files[filepath.Join(bundleDir, interfaces.KeyFileName)].GID)
}

func TestApplyUnknownHostUserFallsBackToRegisteredGroup(t *testing.T) {
	fs := newBundleFS()
	// The host user database knows neither uid; registrations carry a
	// shared primary group.
	engine := newTestEngine(fs, fakeGroups{})
	consumers := []interfaces.ConsumerRegistration{
		{ServiceName: "web", UID: 1001, GID: 1100, NeedsPrivateKey: true},
		{ServiceName: "mail", UID: 1002, GID: 1100, NeedsPrivateKey: true},
	}

	require.NoError(t, engine.Apply(context.Background(), "test.local", bundleDir, consumers))
	key := fs.files[filepath.Join(bundleDir, interfaces.KeyFileName)]
	assert.Equal(t, 1100, key.GID)
	assert.Equal(t, os.FileMode(0640), key.Mode)
}

func TestApplyNoKeyConsumersLocksKey(t *testing.T) {
	fs := newBundleFS()
	// Drifted key state: too wide, wrong group.
	keyPath := filepath.Join(bundleDir, interfaces.KeyFileName)
	fs.files[keyPath] = FileState{UID: 0, GID: 1100, Mode: 0644}

	engine := newTestEngine(fs, fakeGroups{1003: {1003}})
	consumers := []interfaces.ConsumerRegistration{
		{ServiceName: "dns", UID: 1003, GID: 1003, NeedsPrivateKey: false},
	}

	require.NoError(t, engine.Apply(context.Background(), "test.local", bundleDir, consumers))

	key := fs.files[keyPath]
	assert.Equal(t, os.FileMode(0600), key.Mode)
	// Group is left alone; mode 0600 grants it nothing.
	assert.Equal(t, 1100, key.GID)
	assert.Equal(t, []string{"chmod privkey.pem 600"}, fs.ops)
}

func TestApplyRepairsDriftedModes(t *testing.T) {
	fs := newBundleFS()
	certPath := filepath.Join(bundleDir, interfaces.CertFileName)
	fs.files[certPath] = FileState{UID: 0, GID: 0, Mode: 0600}

	engine := newTestEngine(fs, fakeGroups{1001: {1001}})
	consumers := []interfaces.ConsumerRegistration{
		{ServiceName: "web", UID: 1001, GID: 1001, NeedsPrivateKey: true},
	}

	require.NoError(t, engine.Apply(context.Background(), "test.local", bundleDir, consumers))
	assert.Equal(t, os.FileMode(0644), fs.files[certPath].Mode)
}

func TestApplySingleKeyConsumer(t *testing.T) {
	fs := newBundleFS()
	engine := newTestEngine(fs, fakeGroups{1001: {1001, 33}})
	consumers := []interfaces.ConsumerRegistration{
		{ServiceName: "web", UID: 1001, GID: 1001, NeedsPrivateKey: true},
	}

	require.NoError(t, engine.Apply(context.Background(), "test.local", bundleDir, consumers))
	key := fs.files[filepath.Join(bundleDir, interfaces.KeyFileName)]
	assert.Equal(t, 1001, key.GID)
	assert.Equal(t, os.FileMode(0640), key.Mode)
}
