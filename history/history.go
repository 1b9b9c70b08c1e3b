// Package history implements the append-only command history file of
// spec §6.4: one entry per line, UTF-8 text with optional JSON
// enrichment, trimmed to a maximum size.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// DefaultMaxEntries is the history file's default trim threshold, per
// spec §6.4 ("trims to a max size (default 10,000)").
const DefaultMaxEntries = 10000

// Entry is one history record. Command is always present; Timestamp is
// zero when a line predates JSON enrichment or was written by a plain-text
// writer.
type Entry struct {
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// History appends to, and periodically trims, one history file.
type History struct {
	path       string
	maxEntries int
}

// Open returns a History bound to path, creating its parent directory if
// necessary. It does not read the file yet; Load does that lazily.
func Open(path string, maxEntries int) (*History, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("history: creating %s: %w", filepath.Dir(path), err)
	}
	return &History{path: path, maxEntries: maxEntries}, nil
}

// DefaultPath returns $HOME/.rush_history.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".rush_history"), nil
}

// Append adds one command to the history file at command-boundary time,
// per spec §6.4 ("appends on each command boundary"). Plain commands are
// written as bare text lines; enrich controls whether the JSON form is
// used instead.
func (h *History) Append(command string, enrich bool) error {
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("history: opening %s: %w", h.path, err)
	}
	defer f.Close()

	line := command
	if enrich {
		b, err := json.Marshal(Entry{Command: command, Timestamp: time.Now()})
		if err != nil {
			return err
		}
		line = string(b)
	}
	_, err = fmt.Fprintln(f, line)
	return err
}

// Load reads every entry currently on disk, oldest first. Lines that
// don't parse as JSON are treated as bare commands with a zero
// Timestamp.
func (h *History) Load() ([]Entry, error) {
	f, err := os.Open(h.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: opening %s: %w", h.path, err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil || e.Command == "" {
			e = Entry{Command: line}
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("history: scanning %s: %w", h.path, err)
	}
	return entries, nil
}

// Trim keeps only the most recent maxEntries lines, rewriting the file
// atomically via renameio so a crash mid-trim never leaves a partially
// written history file behind.
func (h *History) Trim() error {
	entries, err := h.Load()
	if err != nil {
		return err
	}
	if len(entries) <= h.maxEntries {
		return nil
	}
	entries = entries[len(entries)-h.maxEntries:]

	var buf []byte
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			buf = append(buf, []byte(e.Command+"\n")...)
			continue
		}
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		buf = append(buf, b...)
		buf = append(buf, '\n')
	}
	return renameio.WriteFile(h.path, buf, 0o600)
}
