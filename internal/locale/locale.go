// Package locale implements the runtime's keyed string lookup with dotted
// paths, parameter interpolation, and per-lookup locale fallback (component
// C11). Fallback matching is layered on golang.org/x/text/language, used
// the same way the retrieval pack's nevindra-oasis and roach88-nysm repos
// resolve a requested locale against a set of supported tags.
package locale

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

// Data is one locale's dotted key tree, as loaded from the spec document's
// `locale` section (loading itself is out of scope; this package only
// consumes the already-built tree).
type Data map[string]any

// Manager resolves (key, locale, params) lookups against a set of loaded
// locale trees.
type Manager struct {
	mu      sync.RWMutex
	locales map[string]Data

	matcher  language.Matcher
	tagIDs   []string // ids in the same order as the tags given to matcher
	defaultID string
}

// NewManager constructs an empty Manager. Register locales with Load
// before calling Get.
func NewManager(defaultLocale string) *Manager {
	return &Manager{
		locales:   make(map[string]Data),
		defaultID: defaultLocale,
	}
}

// Load registers or replaces the tree for id (e.g. "en", "en-GB", "fr").
func (m *Manager) Load(id string, data Data) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locales[id] = data
	m.rebuildMatcher()
}

// rebuildMatcher must be called with mu held. It re-derives the matcher's
// tag set from the currently loaded locale ids, skipping any id that
// doesn't parse as a BCP 47 tag (treated as an opaque locale name with no
// fallback matching).
func (m *Manager) rebuildMatcher() {
	var tags []language.Tag
	var ids []string
	for id := range m.locales {
		tag, err := language.Parse(id)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
		ids = append(ids, id)
	}
	if len(tags) == 0 {
		m.matcher = nil
		m.tagIDs = nil
		return
	}
	m.matcher = language.NewMatcher(tags)
	m.tagIDs = ids
}

// resolveLocale finds the best registered locale id for requested,
// applying whole-locale fallback only (never per-key within a present
// locale, per spec.md §4.11).
func (m *Manager) resolveLocale(requested string) (Data, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if requested == "" {
		requested = m.defaultID
	}
	if data, ok := m.locales[requested]; ok {
		return data, true
	}

	if m.matcher != nil {
		if reqTag, err := language.Parse(requested); err == nil {
			_, index, conf := m.matcher.Match(reqTag)
			if conf != language.No && index >= 0 && index < len(m.tagIDs) {
				if data, ok := m.locales[m.tagIDs[index]]; ok {
					return data, true
				}
			}
		}
	}

	if data, ok := m.locales[m.defaultID]; ok {
		return data, true
	}
	return nil, false
}

// Get looks up a dotted key in the resolved locale, interpolating {name}
// placeholders from params. Traversal stops and the raw key is returned if
// any segment misses or the final value is not a string (§4.11).
func (m *Manager) Get(key string, requestedLocale string, params map[string]any) string {
	data, ok := m.resolveLocale(requestedLocale)
	if !ok {
		return key
	}

	value, ok := lookupDotted(data, key)
	if !ok {
		return key
	}
	s, ok := value.(string)
	if !ok {
		return key
	}

	return interpolateParams(s, params)
}

func lookupDotted(data Data, key string) (any, bool) {
	segments := strings.Split(key, ".")
	var cur any = map[string]any(data)
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// interpolateParams replaces {name} occurrences; unknown or nil params
// leave the placeholder intact.
func interpolateParams(s string, params map[string]any) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == '{' {
			end := strings.IndexByte(s[i:], '}')
			if end >= 0 {
				name := s[i+1 : i+end]
				if v, ok := params[name]; ok && v != nil {
					fmt.Fprintf(&b, "%v", v)
					i += end + 1
					continue
				}
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
