// Package objects implements the namespaced object store and the virtual
// file store on top of the backend contract: CRUD with deep-merge
// extension, ACL enforcement, sticky user settings, protected
// non-editable blocks, design-document views and change notification.
package objects

import (
	"encoding/json"

	"github.com/ottohome/objectdb/pkg/acl"
	storeerrors "github.com/ottohome/objectdb/pkg/objects/errors"
)

// Object is one stored record. Known top-level fields are typed; any
// other field survives round-trips through Extra.
type Object struct {
	ID      string
	Type    string
	Common  map[string]any
	Native  map[string]any
	ACL     *acl.ObjectACL
	NonEdit map[string]any
	Extra   map[string]any
}

// toMap flattens the object into the stored JSON shape.
func (o *Object) toMap() map[string]any {
	m := make(map[string]any, len(o.Extra)+6)
	for k, v := range o.Extra {
		m[k] = v
	}
	m["_id"] = o.ID
	if o.Type != "" {
		m["type"] = o.Type
	}
	if o.Common != nil {
		m["common"] = o.Common
	}
	if o.Native != nil {
		m["native"] = o.Native
	}
	if o.ACL != nil {
		m["acl"] = aclToMap(o.ACL)
	}
	if o.NonEdit != nil {
		m["nonEdit"] = o.NonEdit
	}
	return m
}

// objectFromMap lifts the stored JSON shape back into an Object.
func objectFromMap(m map[string]any) *Object {
	o := &Object{Extra: make(map[string]any)}
	for k, v := range m {
		switch k {
		case "_id":
			o.ID, _ = v.(string)
		case "type":
			o.Type, _ = v.(string)
		case "common":
			o.Common, _ = v.(map[string]any)
		case "native":
			o.Native, _ = v.(map[string]any)
		case "acl":
			if am, ok := v.(map[string]any); ok {
				o.ACL = aclFromMap(am)
			}
		case "nonEdit":
			o.NonEdit, _ = v.(map[string]any)
		default:
			o.Extra[k] = v
		}
	}
	if len(o.Extra) == 0 {
		o.Extra = nil
	}
	return o
}

// MarshalJSON emits the stored JSON shape.
func (o *Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.toMap())
}

// UnmarshalJSON parses the stored JSON shape.
func (o *Object) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*o = *objectFromMap(m)
	return nil
}

func aclToMap(a *acl.ObjectACL) map[string]any {
	m := map[string]any{}
	if a.Owner != "" {
		m["owner"] = a.Owner
	}
	if a.OwnerGroup != "" {
		m["ownerGroup"] = a.OwnerGroup
	}
	if a.Object != 0 {
		m["object"] = float64(a.Object)
	}
	if a.State != 0 {
		m["state"] = float64(a.State)
	}
	return m
}

func aclFromMap(m map[string]any) *acl.ObjectACL {
	a := &acl.ObjectACL{}
	a.Owner, _ = m["owner"].(string)
	a.OwnerGroup, _ = m["ownerGroup"].(string)
	a.Object = uint16Field(m, "object")
	a.State = uint16Field(m, "state")
	return a
}

func uint16Field(m map[string]any, key string) uint16 {
	if f, ok := m[key].(float64); ok {
		return uint16(f)
	}
	return 0
}

// decodeObject parses a stored payload. A broken payload yields a parse
// error carrying the id; callers decide whether that is fatal.
func decodeObject(id string, raw []byte) (*Object, error) {
	if len(raw) == 0 {
		return nil, storeerrors.NewNotFound(id)
	}
	var o Object
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, storeerrors.NewParse(id, err)
	}
	if o.ID == "" {
		o.ID = id
	}
	return &o, nil
}

// FileStats carries the size of a stored file.
type FileStats struct {
	Size int64 `json:"size"`
}

// FileMeta is the metadata record paired with each stored file.
type FileMeta struct {
	ACL         *acl.FileACL `json:"acl,omitempty"`
	Stats       FileStats    `json:"stats"`
	MimeType    string       `json:"mimeType,omitempty"`
	Binary      bool         `json:"binary,omitempty"`
	CreatedAt   int64        `json:"createdAt,omitempty"`
	ModifiedAt  int64        `json:"modifiedAt,omitempty"`
	VirtualFile bool         `json:"virtualFile,omitempty"`

	// NotExists marks a meta record with no readable file content behind
	// it: persisted together with VirtualFile for directory markers, and
	// synthesized in memory for a data key found without metadata.
	NotExists bool `json:"notExists,omitempty"`
}

// FileInfo is one row of a directory listing.
type FileInfo struct {
	File       string       `json:"file"`
	Stats      FileStats    `json:"stats"`
	IsDir      bool         `json:"isDir"`
	ACL        *acl.FileACL `json:"acl,omitempty"`
	MimeType   string       `json:"mimeType,omitempty"`
	CreatedAt  int64        `json:"createdAt,omitempty"`
	ModifiedAt int64        `json:"modifiedAt,omitempty"`
	Virtual    bool         `json:"virtual,omitempty"`
}

// RemovedFile describes one file removed by a pattern delete.
type RemovedFile struct {
	File string `json:"file"`
	Path string `json:"path"`
}

// ObjectResult is one positional slot of a batch fetch: the object when
// readable, otherwise the per-slot error (not found, permission denied
// or parse failure).
type ObjectResult struct {
	Object *Object
	Err    error
}

// ViewRow is one emitted row of a view evaluation. Value is the emitted
// value: the whole object for most views, the custom settings block for
// custom views, the aggregate for reduced views. Range listings
// additionally carry the object in Doc.
type ViewRow struct {
	ID    string  `json:"id"`
	Value any     `json:"value"`
	Doc   *Object `json:"doc,omitempty"`
}

// ViewResult is the row set produced by a view evaluation or a range
// listing.
type ViewResult struct {
	Rows []ViewRow `json:"rows"`
}

// ViewParams bounds a view evaluation or range listing.
type ViewParams struct {
	StartKey string
	EndKey   string

	// IncludeDocs admits internal records (underscore-prefixed ids, e.g.
	// design documents) into range listings.
	IncludeDocs bool
}

// rangeEnd is the end-of-range sentinel applied when EndKey is empty.
// It sorts after every id in practical use.
const rangeEnd = "香"

func (p ViewParams) endKey() string {
	if p.EndKey == "" {
		return rangeEnd
	}
	return p.EndKey
}
