package routeros

import (
	"sort"
	"strconv"
	"strings"
)

// Record is one reply sentence from the device, keyed by attribute name.
type Record map[string]string

func (r Record) Get(key string) string {
	return r[key]
}

// ID returns the device-side identifier (".id").
func (r Record) ID() string {
	return r[".id"]
}

// Dead reports whether a listen event announces the removal of an item.
func (r Record) Dead() bool {
	return r[".dead"] == "true"
}

func (r Record) Bool(key string) bool {
	return r[key] == "true" || r[key] == "yes"
}

func (r Record) Int(key string) int64 {
	n, err := strconv.ParseInt(r[key], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Username returns the normalized account name carried by the record. PPP
// records use "name", hotspot records use "user".
func (r Record) Username() string {
	return NormalizeUsername(r.Name())
}

// Name returns the account name as the device spells it. Device queries
// match it case-sensitively.
func (r Record) Name() string {
	name := r["name"]
	if name == "" {
		name = r["user"]
	}
	return strings.TrimSpace(name)
}

func NormalizeUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Clone returns a copy safe to retain after the reply is released.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Reply is the result of a single command.
type Reply struct {
	Records []Record
	// Ret holds the value returned by add commands, typically the new ".id".
	Ret string
}

// Attr formats an attribute word ("=name=value").
func Attr(name, value string) string {
	return "=" + name + "=" + value
}

// Where formats a query word ("?name=value").
func Where(name, value string) string {
	return "?" + name + "=" + value
}

// Attrs formats a field map as attribute words in a stable order.
func Attrs(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	words := make([]string, 0, len(keys))
	for _, k := range keys {
		words = append(words, Attr(k, fields[k]))
	}
	return words
}
