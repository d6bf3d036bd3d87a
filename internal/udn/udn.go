// Package udn derives and persists the device's Unique Device Name, the
// stable UUID that lets clients recognize this server across restarts.
package udn

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anacrolix/dms/upnp"
	"github.com/google/uuid"
)

const stateFileName = "udn"

// Derive deterministically builds a UUID from unique (typically
// hostname+served-directory), the same construction the teacher's
// makeDeviceUUID uses: an md5 digest reformatted into UUID form.
func Derive(unique string) string {
	h := md5.New()
	fmt.Fprint(h, unique)
	return upnp.FormatUUID(h.Sum(nil))
}

// stateFile returns the path to the persisted UDN file under the user's
// config directory, or an error if that directory can't be determined.
func stateFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dlnaserve", stateFileName), nil
}

// Load returns a persisted UDN if one exists, or ok=false if none was
// found or the stored value was unusable.
func Load() (value string, ok bool) {
	path, err := stateFile()
	if err != nil {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(string(data))
	if _, parseErr := uuid.Parse(strings.TrimPrefix(v, "uuid:")); parseErr != nil {
		return "", false
	}
	return v, true
}

// Save best-effort persists value so future restarts reuse the same UDN.
// Failure is non-fatal; callers should log it at debug level and continue.
func Save(value string) error {
	path, err := stateFile()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(value+"\n"), 0o600)
}

// Resolve implements the full fallback chain: a persisted value if valid,
// else a value deterministically derived from unique, else (only should
// that derivation somehow be unusable) a fresh random UUID. The resolved
// value is written back best-effort.
func Resolve(unique string) string {
	if v, ok := Load(); ok {
		return v
	}
	v := "uuid:" + Derive(unique)
	if _, err := uuid.Parse(Derive(unique)); err != nil {
		v = "uuid:" + uuid.NewString()
	}
	_ = Save(v)
	return v
}
