// Package addressbook reads the kiosk list the sender pushes to: one
// "ip,name" entry per line, name optional, '#' comments and blank lines
// ignored.
package addressbook

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/danmuck/kioskpush/internal/sender"
)

var (
	ErrInvalidEntry = errors.New("addressbook: invalid entry")
	ErrNotFound     = errors.New("addressbook: no such kiosk")
)

type Entry struct {
	IP   string
	Name string
}

// Target converts the entry for the sender client.
func (e Entry) Target() sender.Target {
	return sender.Target{Addr: e.IP, Name: e.Name}
}

type Book struct {
	Entries []Entry
}

func Load(path string) (*Book, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("addressbook load failed (%s): %w", path, err)
	}
	defer f.Close()
	b, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("addressbook parse failed (%s): %w", path, err)
	}
	return b, nil
}

// Parse reads entries from r. The host part may be an IP literal or a
// hostname, with an optional port.
func Parse(r io.Reader) (*Book, error) {
	b := &Book{}
	sc := bufio.NewScanner(r)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		host, name, _ := strings.Cut(line, ",")
		host, name = strings.TrimSpace(host), strings.TrimSpace(name)
		if err := validHost(host); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidEntry, lineNo, err)
		}
		b.Entries = append(b.Entries, Entry{IP: host, Name: name})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return b, nil
}

func validHost(host string) error {
	if host == "" {
		return errors.New("missing address")
	}
	if strings.ContainsAny(host, " \t") {
		return fmt.Errorf("address %q contains spaces", host)
	}
	if h, _, err := net.SplitHostPort(host); err == nil && h == "" {
		return fmt.Errorf("address %q has no host", host)
	}
	return nil
}

// Lookup finds an entry by name (case-insensitive) or exact address.
func (b *Book) Lookup(nameOrIP string) (Entry, error) {
	key := strings.TrimSpace(nameOrIP)
	for _, e := range b.Entries {
		if e.IP == key || (e.Name != "" && strings.EqualFold(e.Name, key)) {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, key)
}

// Targets resolves each selector through Lookup. A selector that matches
// nothing but parses as an address is used as-is. No selectors means every
// entry.
func (b *Book) Targets(selectors ...string) ([]sender.Target, error) {
	if len(selectors) == 0 {
		out := make([]sender.Target, 0, len(b.Entries))
		for _, e := range b.Entries {
			out = append(out, e.Target())
		}
		return out, nil
	}
	out := make([]sender.Target, 0, len(selectors))
	for _, sel := range selectors {
		e, err := b.Lookup(sel)
		if err != nil {
			if !looksLikeAddress(sel) {
				return nil, err
			}
			e = Entry{IP: strings.TrimSpace(sel)}
		}
		out = append(out, e.Target())
	}
	return out, nil
}

func looksLikeAddress(s string) bool {
	s = strings.TrimSpace(s)
	if net.ParseIP(s) != nil {
		return true
	}
	host, _, err := net.SplitHostPort(s)
	return err == nil && host != ""
}
