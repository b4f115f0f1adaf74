// Package acl provides the reflector's access control lookups: block and
// allow lists for addresses, gateway callsigns, source callsigns, and the
// DG-ID allow list. Each category is an O(1) set rebuilt wholesale from its
// authoritative ordered list and swapped atomically, so readers never see a
// partially populated set.
package acl

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Category identifies one lookup set
type Category int

const (
	AddressBlock Category = iota
	GatewayBlock
	GatewayAllow
	CallsignBlock
	CallsignAllow
	TalkGroupAllow

	numCategories
)

// String returns the string representation of the category
func (c Category) String() string {
	switch c {
	case AddressBlock:
		return "address_block"
	case GatewayBlock:
		return "gateway_block"
	case GatewayAllow:
		return "gateway_allow"
	case CallsignBlock:
		return "callsign_block"
	case CallsignAllow:
		return "callsign_allow"
	case TalkGroupAllow:
		return "talkgroup_allow"
	default:
		return "unknown"
	}
}

type set map[string]struct{}

// Lookup holds one atomically swappable set per category
type Lookup struct {
	sets [numCategories]atomic.Value // each holds a set
}

// NewLookup creates a Lookup with all categories empty
func NewLookup() *Lookup {
	l := &Lookup{}
	for i := Category(0); i < numCategories; i++ {
		l.sets[i].Store(set{})
	}
	return l
}

// Reload rebuilds a category from its ordered source list and swaps it in.
// The build happens off the read path; readers keep using the old set until
// the single atomic store.
func (l *Lookup) Reload(cat Category, entries []string) error {
	if cat < 0 || cat >= numCategories {
		return fmt.Errorf("unknown ACL category: %d", cat)
	}

	next := make(set, len(entries))
	for _, raw := range entries {
		e := strings.TrimSpace(raw)
		if e == "" || strings.HasPrefix(e, "#") {
			continue
		}

		if cat == TalkGroupAllow {
			ids, err := parseTalkGroups(e)
			if err != nil {
				return fmt.Errorf("bad talk-group entry %q: %w", e, err)
			}
			for _, id := range ids {
				next[strconv.Itoa(id)] = struct{}{}
			}
			continue
		}

		next[normalizeKey(cat, e)] = struct{}{}
	}

	l.sets[cat].Store(next)
	return nil
}

// Size returns the number of keys in a category
func (l *Lookup) Size(cat Category) int {
	return len(l.load(cat))
}

// IsListed reports whether key is in the category's set
func (l *Lookup) IsListed(cat Category, key string) bool {
	_, ok := l.load(cat)[normalizeKey(cat, key)]
	return ok
}

// BlockedAddress reports whether a source IP is blocked. This is the
// cheapest gate and runs before anything is queued.
func (l *Lookup) BlockedAddress(ip string) bool {
	return l.IsListed(AddressBlock, ip)
}

// BlockedGateway reports whether a gateway callsign is denied: either
// present on the block list, or absent from a non-empty allow list.
func (l *Lookup) BlockedGateway(callsign string) bool {
	if l.IsListed(GatewayBlock, callsign) {
		return true
	}
	allow := l.load(GatewayAllow)
	if len(allow) == 0 {
		return false
	}
	_, ok := allow[normalizeKey(GatewayAllow, callsign)]
	return !ok
}

// BlockedCallsign reports whether a source callsign is denied
func (l *Lookup) BlockedCallsign(callsign string) bool {
	if l.IsListed(CallsignBlock, callsign) {
		return true
	}
	allow := l.load(CallsignAllow)
	if len(allow) == 0 {
		return false
	}
	_, ok := allow[normalizeKey(CallsignAllow, callsign)]
	return !ok
}

// TalkGroupAllowed reports whether a DG-ID may carry traffic. An empty
// allow list permits every DG-ID.
func (l *Lookup) TalkGroupAllowed(dgid uint8) bool {
	allowed := l.load(TalkGroupAllow)
	if len(allowed) == 0 {
		return true
	}
	_, ok := allowed[strconv.Itoa(int(dgid))]
	return ok
}

func (l *Lookup) load(cat Category) set {
	if cat < 0 || cat >= numCategories {
		return nil
	}
	return l.sets[cat].Load().(set)
}

func normalizeKey(cat Category, key string) string {
	key = strings.TrimSpace(key)
	if cat == AddressBlock {
		return key
	}
	return strings.ToUpper(key)
}

// parseTalkGroups parses a single DG-ID entry: "21" or a range "10-19"
func parseTalkGroups(entry string) ([]int, error) {
	if start, end, ok := strings.Cut(entry, "-"); ok {
		lo, err := strconv.Atoi(strings.TrimSpace(start))
		if err != nil {
			return nil, fmt.Errorf("invalid range start: %s", start)
		}
		hi, err := strconv.Atoi(strings.TrimSpace(end))
		if err != nil {
			return nil, fmt.Errorf("invalid range end: %s", end)
		}
		if lo > hi {
			return nil, fmt.Errorf("range start %d after end %d", lo, hi)
		}
		if lo < 0 || hi > 99 {
			return nil, fmt.Errorf("DG-ID range %d-%d outside 0-99", lo, hi)
		}
		ids := make([]int, 0, hi-lo+1)
		for i := lo; i <= hi; i++ {
			ids = append(ids, i)
		}
		return ids, nil
	}

	id, err := strconv.Atoi(entry)
	if err != nil {
		return nil, fmt.Errorf("invalid DG-ID: %s", entry)
	}
	if id < 0 || id > 99 {
		return nil, fmt.Errorf("DG-ID %d outside 0-99", id)
	}
	return []int{id}, nil
}
