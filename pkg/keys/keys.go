// Package keys implements the backend key namespace codec: the mapping
// between logical object ids / file paths and the flat keys stored in the
// key-value backend, plus id validation and glob pattern translation.
//
// The layout is fixed for interoperability with existing deployments:
//
//	<namespace>.o.<id>                                object
//	<namespace>.f.<ownerId>$%$<relativeName>$%$meta   file meta record
//	<namespace>.f.<ownerId>$%$<relativeName>$%$data   file data record
//
// where <namespace> defaults to "cfg" with a trailing "." appended once.
package keys

import (
	"regexp"
	"strings"
)

// Delim separates the owner id, relative name and record kind inside a
// file key.
const Delim = "$%$"

// Record kind suffixes of a file key pair.
const (
	KindMeta = "meta"
	KindData = "data"
)

// DefaultPrefix is the namespace used when none is configured.
const DefaultPrefix = "cfg"

// invalidID matches characters that may never appear in an object id.
var invalidID = regexp.MustCompile("[\\]\\[*,;'\"`<>\\\\?]")

// Namespaces holds the derived object and file namespaces for one
// configured prefix.
type Namespaces struct {
	Prefix  string // "cfg."
	Objects string // "cfg.o."
	Files   string // "cfg.f."
}

// New derives the namespaces from a prefix. A trailing dot is appended
// exactly once; an empty prefix falls back to DefaultPrefix.
func New(prefix string) Namespaces {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}
	return Namespaces{
		Prefix:  prefix,
		Objects: prefix + "o.",
		Files:   prefix + "f.",
	}
}

// ObjectKey maps an object id to its backend key.
func (n Namespaces) ObjectKey(id string) string {
	return n.Objects + id
}

// ObjectID recovers the object id from a backend key. The second return
// value is false when the key is not inside the object namespace.
func (n Namespaces) ObjectID(key string) (string, bool) {
	if !strings.HasPrefix(key, n.Objects) {
		return "", false
	}
	return key[len(n.Objects):], true
}

// FileKey maps an (ownerId, relativeName) pair to one of its backend keys.
// kind is KindMeta or KindData; an empty kind yields the bare key used as
// an enumeration pattern prefix.
func (n Namespaces) FileKey(ownerID, name, kind string) string {
	key := n.Files + ownerID + Delim + NormalizePath(name)
	if kind != "" {
		key += Delim + kind
	}
	return key
}

// FileMetaKey maps a file to its meta record key.
func (n Namespaces) FileMetaKey(ownerID, name string) string {
	return n.FileKey(ownerID, name, KindMeta)
}

// FileDataKey maps a file to its data record key.
func (n Namespaces) FileDataKey(ownerID, name string) string {
	return n.FileKey(ownerID, name, KindData)
}

// ParseFileKey recovers (ownerId, relativeName, kind) from a backend file
// key. The final return value is false when the key is not a well-formed
// file key in this namespace.
func (n Namespaces) ParseFileKey(key string) (ownerID, name, kind string, ok bool) {
	if !strings.HasPrefix(key, n.Files) {
		return "", "", "", false
	}
	parts := strings.Split(key[len(n.Files):], Delim)
	if len(parts) != 3 {
		return "", "", "", false
	}
	if parts[2] != KindMeta && parts[2] != KindData {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// NormalizePath collapses repeated slashes and strips leading and trailing
// slashes from a file path.
func NormalizePath(name string) string {
	for strings.Contains(name, "//") {
		name = strings.ReplaceAll(name, "//", "/")
	}
	return strings.Trim(name, "/")
}

// ValidID reports whether id may be used as an object id. Ids must be
// non-empty and free of wildcard, quoting and delimiter characters.
func ValidID(id string) bool {
	if id == "" {
		return false
	}
	if strings.Contains(id, Delim) {
		return false
	}
	return !invalidID.MatchString(id)
}

// Internal reports whether id addresses an internal record (design
// documents and other underscore-prefixed system entries). Range listings
// exclude these unless explicitly requested.
func Internal(id string) bool {
	return strings.HasPrefix(id, "_")
}
