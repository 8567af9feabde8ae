package service

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"notification-service/internal/config"
	"notification-service/internal/domains/notification/model"
	"notification-service/internal/shared"
)

// ================================================
// TEMPLATE RENDERER
// ================================================

// placeholderPattern matches both placeholder syntaxes: {{name}} and
// its ${name} alias. Names start with a letter or underscore.
var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}|\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExtractVariables returns the sorted set of placeholder names used
// anywhere in the template (subject, text body, HTML body).
func ExtractVariables(tpl *model.NotificationTemplate) []string {
	seen := make(map[string]struct{})

	for _, src := range []string{tpl.Subject, tpl.BodyText, tpl.BodyHTML} {
		for _, m := range placeholderPattern.FindAllStringSubmatch(src, -1) {
			name := m[1]
			if name == "" {
				name = m[2]
			}
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TemplateRenderer substitutes variables into a template and caches
// the rendered output keyed by a hash of (template identity, variable
// values). Oversized bodies bypass the cache.
type TemplateRenderer struct {
	cache    *lru.LRU[uint64, *model.RenderedMessage]
	maxBytes int
	clock    shared.Clock
}

func NewTemplateRenderer(cfg config.CacheConfig, clock shared.Clock) *TemplateRenderer {
	if clock == nil {
		clock = shared.SystemClock()
	}
	return &TemplateRenderer{
		cache:    lru.NewLRU[uint64, *model.RenderedMessage](cfg.RenderedEntries, nil, cfg.RenderedTTL),
		maxBytes: cfg.RenderedMaxBytes,
		clock:    clock,
	}
}

// Render produces the outbound message. Every required variable must
// be present; the failure lists all missing names at once so the
// caller can fix the request in one pass. Values are HTML-escaped only
// in the HTML body.
func (r *TemplateRenderer) Render(tpl *model.NotificationTemplate, vars model.JSONB) (*model.RenderedMessage, error) {
	required := tpl.RequiredVariables
	if required == nil {
		required = ExtractVariables(tpl)
	}

	var missing []string
	for _, name := range required {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &model.MissingVariablesError{Names: missing}
	}

	key := r.cacheKey(tpl, vars)
	if msg, ok := r.cache.Get(key); ok {
		return msg, nil
	}

	msg := &model.RenderedMessage{
		Subject:       substitute(tpl.Subject, vars, false),
		BodyText:      substitute(tpl.BodyText, vars, false),
		VariableCount: len(required),
		ProcessedAt:   r.clock.Now(),
	}
	if tpl.BodyHTML != "" {
		msg.BodyHTML = substitute(tpl.BodyHTML, vars, true)
	}

	if len(msg.BodyText) <= r.maxBytes {
		r.cache.Add(key, msg)
	}

	return msg, nil
}

// Purge drops every cached rendered message. Called when any template
// changes; rendered output must never outlive its source.
func (r *TemplateRenderer) Purge() {
	r.cache.Purge()
}

// substitute replaces every placeholder occurrence with its coerced
// value. Unknown placeholders are left untouched, which only happens
// for optional variables absent from the required set.
func substitute(src string, vars model.JSONB, escapeHTML bool) string {
	return placeholderPattern.ReplaceAllStringFunc(src, func(match string) string {
		m := placeholderPattern.FindStringSubmatch(match)
		name := m[1]
		if name == "" {
			name = m[2]
		}

		value, ok := vars[name]
		if !ok {
			return match
		}

		text := coerce(value)
		if escapeHTML {
			text = html.EscapeString(text)
		}
		return text
	})
}

// coerce renders a variable value as a string. JSON numbers arrive as
// float64; integral values must not grow a trailing ".0".
func coerce(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// cacheKey hashes the template identity together with the variable
// values, sorted by name so map order never changes the key.
func (r *TemplateRenderer) cacheKey(tpl *model.NotificationTemplate, vars model.JSONB) uint64 {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(tpl.Type)
	b.WriteByte(0)
	b.WriteString(tpl.Language)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(tpl.Version))
	for _, name := range names {
		b.WriteByte(0)
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(coerce(vars[name]))
	}

	return xxhash.Sum64String(b.String())
}
