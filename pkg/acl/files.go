package acl

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Files maps each category to the path of its authoritative list. Empty
// paths leave the category untouched.
type Files struct {
	AddressBlock   string
	GatewayBlock   string
	GatewayAllow   string
	CallsignBlock  string
	CallsignAllow  string
	TalkGroupAllow string
}

// ReadListFile reads one entry per line; blank lines and '#' comments are
// skipped. Order is preserved.
func ReadListFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open list file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read list file: %w", err)
	}
	return entries, nil
}

// ReloadFromFiles re-reads each configured list and swaps the category in.
// A category whose file cannot be read keeps its previous set; the first
// error is returned after all categories were attempted.
func (l *Lookup) ReloadFromFiles(files Files) error {
	var firstErr error

	reload := func(cat Category, path string) {
		if path == "" {
			return
		}
		entries, err := ReadListFile(path)
		if err == nil {
			err = l.Reload(cat, entries)
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", cat, err)
		}
	}

	reload(AddressBlock, files.AddressBlock)
	reload(GatewayBlock, files.GatewayBlock)
	reload(GatewayAllow, files.GatewayAllow)
	reload(CallsignBlock, files.CallsignBlock)
	reload(CallsignAllow, files.CallsignAllow)
	reload(TalkGroupAllow, files.TalkGroupAllow)

	return firstErr
}
