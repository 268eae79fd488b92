package targets

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// Target is one array management address taken from the target list.
type Target struct {
	Addr netip.Addr
	Raw  string // the entry as written, after trimming
	Line int    // 1-based line number in the list file
}

func (t Target) String() string {
	return t.Addr.String()
}

var (
	// ErrTemplateCreated is returned when the list file was missing and a
	// commented template was written in its place for the operator to fill in.
	ErrTemplateCreated = errors.New("target list was missing, a template has been created")

	// ErrNoTargets is returned when the list parses cleanly but holds no
	// usable addresses.
	ErrNoTargets = errors.New("target list contains no addresses")
)

// InvalidEntry is a single line that failed address validation.
type InvalidEntry struct {
	Line int
	Text string
	Err  error
}

// InvalidListError rejects the whole list. It carries every offending line so
// the operator can fix the file in one pass instead of one failure at a time.
type InvalidListError struct {
	Path    string
	Entries []InvalidEntry
}

func (e *InvalidListError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d invalid entries", e.Path, len(e.Entries))
	for _, entry := range e.Entries {
		fmt.Fprintf(&b, "\n  line %d: %q: %v", entry.Line, entry.Text, entry.Err)
	}
	return b.String()
}

var template = strings.Join([]string{
	"# Unity management addresses, one per line.",
	"# Blank lines and lines starting with '#' are ignored.",
	"#",
	"# Examples:",
	"# 192.168.1.10",
	"# 2001:db8::10",
	"",
}, "\n")

// Load reads the target list at path and returns the addresses in file order.
// Duplicates are kept. A missing file is answered with a fresh template and
// ErrTemplateCreated; a single bad line rejects the whole list.
func Load(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if werr := os.WriteFile(path, []byte(template), 0644); werr != nil {
			return nil, fmt.Errorf("creating target list template: %w", werr)
		}
		log.Info().Str("path", path).Msg("Target list not found, template written")
		return nil, ErrTemplateCreated
	}
	if err != nil {
		return nil, fmt.Errorf("reading target list: %w", err)
	}

	var (
		list    []Target
		invalid []InvalidEntry
	)
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, perr := netip.ParseAddr(line)
		if perr != nil {
			invalid = append(invalid, InvalidEntry{Line: i + 1, Text: line, Err: perr})
			continue
		}
		list = append(list, Target{Addr: addr, Raw: line, Line: i + 1})
	}

	if len(invalid) > 0 {
		return nil, &InvalidListError{Path: path, Entries: invalid}
	}
	if len(list) == 0 {
		return nil, ErrNoTargets
	}
	return list, nil
}
