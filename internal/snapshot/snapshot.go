// Package snapshot implements the crawler-to-pinger handoff file: a
// JSON array of reachable peers written atomically by the crawler cron
// and discovered by the pinger cron via glob-max filename ordering.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Entry is one reachable peer as recorded in a snapshot file: [host,
// port, services, height, user_agent].
type Entry struct {
	Host      string
	Port      uint16
	Services  uint64
	Height    int32
	UserAgent string
}

// MarshalJSON encodes Entry as the fixed 5-element array the pinger
// expects on the wire of the handoff file, not as an object.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Host, e.Port, e.Services, e.Height, e.UserAgent})
}

// UnmarshalJSON decodes the fixed 5-element array form.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw [5]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("snapshot: decode entry: %w", err)
	}
	if err := json.Unmarshal(raw[0], &e.Host); err != nil {
		return fmt.Errorf("snapshot: decode host: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Port); err != nil {
		return fmt.Errorf("snapshot: decode port: %w", err)
	}
	if err := json.Unmarshal(raw[2], &e.Services); err != nil {
		return fmt.Errorf("snapshot: decode services: %w", err)
	}
	if err := json.Unmarshal(raw[3], &e.Height); err != nil {
		return fmt.Errorf("snapshot: decode height: %w", err)
	}
	if err := json.Unmarshal(raw[4], &e.UserAgent); err != nil {
		return fmt.Errorf("snapshot: decode user_agent: %w", err)
	}
	return nil
}

// FileName returns the handoff filename for a unix timestamp: plain
// decimal seconds, the names List, Latest and TimestampOf expect. Unix seconds share a fixed digit width for centuries, so
// lexicographic ordering of these names equals chronological ordering
// without needing padding.
func FileName(timestamp int64) string {
	return fmt.Sprintf("%d.json", timestamp)
}

// Path joins dir and the filename for timestamp.
func Path(dir string, timestamp int64) string {
	return filepath.Join(dir, FileName(timestamp))
}

// Write atomically writes entries to dir/{timestamp}.json (temp file +
// rename, mirroring the archive write pattern used for configuration
// files) and returns the final path.
func Write(dir string, timestamp int64, entries []Entry) (string, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal: %w", err)
	}
	path := Path(dir, timestamp)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("snapshot: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("snapshot: rename: %w", err)
	}
	return path, nil
}

// Load reads and parses a snapshot file.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("snapshot: parse %s: %w", path, err)
	}
	return entries, nil
}

// List returns every snapshot file under dir, sorted chronologically
// (oldest first).
func List(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("snapshot: glob: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// Latest returns the path of the most recent snapshot file under dir,
// or ok=false if none exist.
func Latest(dir string) (path string, ok bool, err error) {
	matches, err := List(dir)
	if err != nil {
		return "", false, err
	}
	if len(matches) == 0 {
		return "", false, nil
	}
	return matches[len(matches)-1], true, nil
}

// TimestampOf extracts the unix timestamp embedded in a snapshot
// filename.
func TimestampOf(path string) (int64, error) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".json")
	ts, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("snapshot: parse timestamp from %q: %w", path, err)
	}
	return ts, nil
}

// Prune removes every snapshot file under dir except the keep most
// recent ones. It returns the paths it removed.
func Prune(dir string, keep int) ([]string, error) {
	matches, err := List(dir)
	if err != nil {
		return nil, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(matches) <= keep {
		return nil, nil
	}
	toRemove := matches[:len(matches)-keep]
	var removed []string
	for _, path := range toRemove {
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("snapshot: remove %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
