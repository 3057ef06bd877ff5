package bundlestore

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const checksumFileName = "SHA256SUMS"

// writeChecksumFile records SHA-256 digests of the named files in dir, in
// sha256sum(1) format, sorted by name.
func writeChecksumFile(dir string, names []string) error {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	var buf bytes.Buffer
	for _, name := range sorted {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		fmt.Fprintf(&buf, "%x  %s\n", sha256.Sum256(data), name)
	}

	return writeFileSync(filepath.Join(dir, checksumFileName), buf.Bytes(), 0644)
}

// verifyChecksumFile re-hashes every file listed in dir's checksum file and
// reports the first mismatch or unreadable entry.
func verifyChecksumFile(dir string) error {
	f, err := os.Open(filepath.Join(dir, checksumFileName))
	if err != nil {
		return fmt.Errorf("checksum file unreadable: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return fmt.Errorf("malformed checksum line %q", line)
		}

		data, err := os.ReadFile(filepath.Join(dir, parts[1]))
		if err != nil {
			return fmt.Errorf("%s unreadable: %w", parts[1], err)
		}
		if fmt.Sprintf("%x", sha256.Sum256(data)) != parts[0] {
			return fmt.Errorf("digest mismatch for %s", parts[1])
		}
	}
	return scanner.Err()
}
