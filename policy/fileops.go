package policy

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"
)

// FileState is the observed ownership and mode of a file.
type FileState struct {
	UID  int
	GID  int
	Mode os.FileMode
}

// FileOps abstracts the syscalls the engine needs, so permission behavior
// is testable without running as root.
type FileOps interface {
	// Stat returns ownership and permission bits, following symlinks.
	Stat(path string) (FileState, error)

	// Chown changes ownership. A component of -1 is left unchanged.
	Chown(path string, uid, gid int) error

	// Chmod changes permission bits.
	Chmod(path string, mode os.FileMode) error
}

// GroupResolver reports the host group memberships of a user.
type GroupResolver interface {
	// GroupIDs returns the primary and supplementary group IDs of uid.
	GroupIDs(uid int) ([]int, error)
}

// OSFileOps is the production FileOps backed by the real filesystem.
type OSFileOps struct{}

// Stat returns ownership and permission bits, following symlinks.
func (OSFileOps) Stat(path string) (FileState, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return FileState{}, err
	}
	sys, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return FileState{}, fmt.Errorf("no ownership information for %s", path)
	}
	return FileState{
		UID:  int(sys.Uid),
		GID:  int(sys.Gid),
		Mode: fi.Mode().Perm(),
	}, nil
}

// Chown changes ownership. A component of -1 is left unchanged.
func (OSFileOps) Chown(path string, uid, gid int) error {
	return os.Chown(path, uid, gid)
}

// Chmod changes permission bits.
func (OSFileOps) Chmod(path string, mode os.FileMode) error {
	return os.Chmod(path, mode)
}

// OSGroupResolver resolves group memberships from the host user database.
type OSGroupResolver struct{}

// GroupIDs returns the primary and supplementary group IDs of uid.
func (OSGroupResolver) GroupIDs(uid int) ([]int, error) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return nil, err
	}

	groupStrs, err := u.GroupIds()
	if err != nil {
		return nil, err
	}

	gids := make([]int, 0, len(groupStrs)+1)
	if primary, err := strconv.Atoi(u.Gid); err == nil {
		gids = append(gids, primary)
	}
	for _, g := range groupStrs {
		gid, err := strconv.Atoi(g)
		if err != nil {
			continue
		}
		gids = append(gids, gid)
	}
	return gids, nil
}
