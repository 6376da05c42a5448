// Package channelkey derives channel identities from subscription configs.
//
// All functions are pure and never fail: filter values of any type are
// coerced with fmt.Sprint.
package channelkey

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/buildline/sitesync/realtime"
)

// NamePrefix starts every physical channel name
const NamePrefix = "subscription"

var keyEscaper = strings.NewReplacer("%", "%25", "&", "%26", "=", "%3D", "<", "%3C")

// filterReserved are the bytes that force a filter column or value to be quoted
const filterReserved = `,.:()"\=`

// Key builds the canonical deduplication key {schema}.{table}.{event}.{filterKey}.
// filterKey is k=v pairs sorted by column and joined with "&", empty when there is
// no filter. "%", "&", "=" and "<" inside columns and values are percent-encoded so
// distinct filters never share a key; a nil value is written as <nil>. The config
// is normalized first so defaulted and explicit values agree.
func Key(config realtime.SubscriptionConfig) string {
	config = config.Normalize()

	var b strings.Builder
	b.WriteString(config.Schema)
	b.WriteByte('.')
	b.WriteString(config.Table)
	b.WriteByte('.')
	b.WriteString(string(config.Event))
	b.WriteByte('.')

	for i, col := range sortedColumns(config.Filter) {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(keyEscaper.Replace(col))
		b.WriteByte('=')
		if v := config.Filter[col]; v == nil {
			b.WriteString("<nil>")
		} else {
			b.WriteString(keyEscaper.Replace(fmt.Sprint(v)))
		}
	}

	return b.String()
}

// Name returns a unique physical channel name for config created at the given time.
// Each non-alphanumeric byte of the key is replaced with "_".
func Name(config realtime.SubscriptionConfig, at time.Time) string {
	return NamePrefix + "-" + sanitize(Key(config)) + "-" + strconv.FormatInt(at.UnixNano(), 10)
}

// FormatFilter renders a filter as col=eq.value pairs joined by ",", sorted by column.
// Entries with nil values are skipped. Columns and values holding reserved
// characters are double-quoted with backslash escapes, as PostgREST does.
func FormatFilter(filter map[string]any) string {
	parts := make([]string, 0, len(filter))
	for _, col := range sortedColumns(filter) {
		v := filter[col]
		if v == nil {
			continue
		}
		parts = append(parts, quoteFilter(col)+"=eq."+quoteFilter(fmt.Sprint(v)))
	}
	return strings.Join(parts, ",")
}

func quoteFilter(s string) string {
	if !strings.ContainsAny(s, filterReserved) && strings.TrimSpace(s) == s {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

func sortedColumns(filter map[string]any) []string {
	cols := make([]string, 0, len(filter))
	for col := range filter {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func sanitize(key string) string {
	result := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			result[i] = c
		} else {
			result[i] = '_'
		}
	}
	return string(result)
}
