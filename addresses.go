package actio

import (
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// AddressTable maps class names to the base URL of the node serving them.
// A class with an address is never constructed locally, only proxied.
//
// Lookups try the class name, then its snake_case form, then, when
// environment lookup is enabled, an environment variable named after the class
// (HiService or HI_SERVICE).
type AddressTable struct {
	mu        sync.RWMutex
	addresses map[string]string
	env       bool
	getenv    func(string) string
}

// NewAddressTable creates an AddressTable seeded with addresses.
func NewAddressTable(addresses map[string]string) *AddressTable {
	t := &AddressTable{
		addresses: make(map[string]string, len(addresses)),
		getenv:    os.Getenv,
	}
	for k, v := range addresses {
		t.addresses[k] = strings.TrimRight(v, "/")
	}
	return t
}

// Set configures the address of className. An empty address removes it.
func (t *AddressTable) Set(className, address string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if address == "" {
		delete(t.addresses, className)
		return
	}
	t.addresses[className] = strings.TrimRight(address, "/")
}

// Delete removes the address of className.
func (t *AddressTable) Delete(className string) {
	t.Set(className, "")
}

// EnableEnv turns environment variable lookup on or off.
func (t *AddressTable) EnableEnv(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.env = enabled
}

// Lookup returns the address configured for className.
func (t *AddressTable) Lookup(className string) (string, bool) {
	if t == nil {
		return "", false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if addr, ok := t.addresses[className]; ok {
		return addr, true
	}
	if addr, ok := t.addresses[snakeCase(className)]; ok {
		return addr, true
	}
	if t.env {
		for _, name := range []string{className, strings.ToUpper(snakeCase(className))} {
			if addr := t.getenv(name); addr != "" {
				return strings.TrimRight(addr, "/"), true
			}
		}
	}
	return "", false
}

// Snapshot returns a copy of the explicitly configured addresses.
func (t *AddressTable) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]string, len(t.addresses))
	for k, v := range t.addresses {
		out[k] = v
	}
	return out
}

// Names returns the sorted keys of the explicitly configured addresses.
func (t *AddressTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.addresses))
	for k := range t.addresses {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// snakeCase converts "HiService" to "hi_service".
func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// capitalize upper-cases the first letter of s.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
