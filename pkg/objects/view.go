package objects

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ottohome/objectdb/internal/logger"
	"github.com/ottohome/objectdb/pkg/acl"
	"github.com/ottohome/objectdb/pkg/keys"
	storeerrors "github.com/ottohome/objectdb/pkg/objects/errors"
)

// designPrefix addresses design documents in the object keyspace.
const designPrefix = "_design/"

// reduceStats is the only supported reduce: a single row carrying the
// maximum emitted value.
const reduceStats = "_stats"

// specKind enumerates the recognized view predicates.
type specKind int

const (
	kindTypeEquals specKind = iota + 1
	kindEngineType
	kindProgram
	kindVariable
	kindCustom
)

// MapSpec is a parsed view definition. Views are declarative: a fixed
// predicate over the object plus the choice of emitted key. Arbitrary
// map code is not executed; an unrecognized definition is rejected.
type MapSpec struct {
	Kind     specKind
	Type     string // predicate type for kindTypeEquals
	EmitName bool   // emit common.name instead of the id
	Reduce   string // "" or reduceStats
}

// scriptFor maps the predicate onto its server-side script name.
func (m *MapSpec) scriptFor() string {
	switch m.Kind {
	case kindTypeEquals:
		return "filter"
	case kindEngineType:
		return "script"
	case kindProgram:
		return "programs"
	case kindVariable:
		return "variables"
	case kindCustom:
		return "custom"
	default:
		return ""
	}
}

// matches evaluates the predicate against one object.
func (m *MapSpec) matches(obj *Object) bool {
	switch m.Kind {
	case kindTypeEquals:
		return obj.Type == m.Type
	case kindEngineType:
		engineType, _ := obj.Common["engineType"].(string)
		return engineType != ""
	case kindProgram:
		typeName, _ := obj.Native["TypeName"].(string)
		return typeName == "PROGRAM"
	case kindVariable:
		typeName, _ := obj.Native["TypeName"].(string)
		return typeName == "ALARMDP"
	case kindCustom:
		return obj.Common["custom"] != nil
	default:
		return false
	}
}

// row builds the emitted row for a matching object.
func (m *MapSpec) row(obj *Object) (ViewRow, bool) {
	if m.Kind == kindCustom {
		custom := obj.Common["custom"]
		if custom == nil {
			return ViewRow{}, false
		}
		return ViewRow{ID: obj.ID, Value: custom}, true
	}
	id := obj.ID
	if m.EmitName {
		name, _ := obj.Common["name"].(string)
		id = name
	}
	return ViewRow{ID: id, Value: obj}, true
}

// legacyFilter recognizes the type-filter map source written by older
// design documents: if (doc.type === 'x') emit(<key>, doc).
var legacyFilter = regexp.MustCompile(`if\s\(doc\.type\s?===?\s?'(\w+)'\)\semit\(([^,]+),\s?doc\s?\)`)

// parseMapSpec parses one view definition. Two forms are accepted: the
// declarative form ({"match": ..., "emit": ..., "reduce": ...}) and the
// four historical map source shapes, recognized textually.
func parseMapSpec(view map[string]any) (*MapSpec, error) {
	spec := &MapSpec{}
	spec.Reduce, _ = view["reduce"].(string)

	if match, ok := view["match"].(map[string]any); ok {
		if emit, _ := view["emit"].(string); emit == "name" {
			spec.EmitName = true
		}
		switch {
		case match["type"] != nil:
			spec.Kind = kindTypeEquals
			spec.Type, _ = match["type"].(string)
		case boolField(match, "engineType"):
			spec.Kind = kindEngineType
		case match["nativeTypeName"] == "PROGRAM":
			spec.Kind = kindProgram
		case match["nativeTypeName"] == "ALARMDP":
			spec.Kind = kindVariable
		case boolField(match, "custom"):
			spec.Kind = kindCustom
		default:
			return nil, storeerrors.NewUnsupportedView("unknown match predicate")
		}
		return spec, nil
	}

	src, _ := view["map"].(string)
	if src == "" {
		return nil, storeerrors.NewUnsupportedView("view has no map definition")
	}
	if m := legacyFilter.FindStringSubmatch(src); m != nil {
		spec.Kind = kindTypeEquals
		spec.Type = m[1]
		spec.EmitName = strings.TrimSpace(m[2]) == "doc.common.name"
		return spec, nil
	}
	if strings.Contains(src, "doc.common.engineType") {
		spec.Kind = kindEngineType
		return spec, nil
	}
	if strings.Contains(src, "doc.native.TypeName === 'PROGRAM'") {
		spec.Kind = kindProgram
		return spec, nil
	}
	if strings.Contains(src, "doc.native.TypeName === 'ALARMDP'") {
		spec.Kind = kindVariable
		return spec, nil
	}
	if strings.Contains(src, "doc.common.custom") {
		spec.Kind = kindCustom
		return spec, nil
	}
	return nil, storeerrors.NewUnsupportedView("unrecognized map function")
}

// GetObjectView evaluates the named view of a design document.
func (s *Store) GetObjectView(ctx context.Context, design, search string, params ViewParams, opts *Options) (*ViewResult, error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("getObjectView", time.Since(started)) }()

	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin(s.sec) && !rights.Object.List {
		return nil, s.opErr("getObjectView", storeerrors.NewPermissionDenied(design))
	}

	designID := designPrefix + design
	raw, err := s.backend.Get(ctx, s.ns.ObjectKey(designID))
	if err != nil {
		return nil, s.opErr("getObjectView", mapBackendErr(err, designID))
	}
	var doc struct {
		Views map[string]map[string]any `json:"views"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, s.opErr("getObjectView", storeerrors.NewParse(designID, err))
	}
	view, ok := doc.Views[search]
	if !ok {
		logger.Error("view not defined in design document", "design", design, "search", search)
		return nil, s.opErr("getObjectView", storeerrors.NewNotFound(designID+"/"+search))
	}
	spec, err := parseMapSpec(view)
	if err != nil {
		return nil, s.opErr("getObjectView", err)
	}

	result, err := s.applyView(ctx, spec, params, opts)
	return result, s.opErr("getObjectView", err)
}

// ApplyView evaluates a parsed view definition against the object
// keyspace.
func (s *Store) ApplyView(ctx context.Context, view map[string]any, params ViewParams, opts *Options) (*ViewResult, error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("applyView", time.Since(started)) }()

	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin(s.sec) && !rights.Object.List {
		return nil, s.opErr("applyView", storeerrors.NewPermissionDenied("view"))
	}
	spec, err := parseMapSpec(view)
	if err != nil {
		return nil, s.opErr("applyView", err)
	}
	result, err := s.applyView(ctx, spec, params, opts)
	return result, s.opErr("applyView", err)
}

func (s *Store) applyView(ctx context.Context, spec *MapSpec, params ViewParams, opts *Options) (*ViewResult, error) {
	start := params.StartKey
	end := params.endKey()
	if start == end {
		end += "\x00"
	}

	var rows []ViewRow
	if hash := s.scripts.hash(spec.scriptFor()); hash != "" {
		scriptKeys := []string{s.ns.Objects, start, end}
		if spec.Kind == kindTypeEquals {
			scriptKeys = append(scriptKeys, spec.Type)
		}
		payloads, err := s.backend.EvalSHA(ctx, hash, scriptKeys)
		if err == nil {
			rows = s.rowsFromPayloads(spec, payloads)
			return reduceRows(spec, rows), nil
		}
		logger.Warn("server-side view script failed, scanning instead", "script", spec.scriptFor(), "error", err)
	}

	rows, err := s.scanView(ctx, spec, start, end, opts)
	if err != nil {
		return nil, err
	}
	return reduceRows(spec, rows), nil
}

// rowsFromPayloads assembles rows from the script result.
func (s *Store) rowsFromPayloads(spec *MapSpec, payloads [][]byte) []ViewRow {
	rows := make([]ViewRow, 0, len(payloads))
	for _, raw := range payloads {
		var obj Object
		if err := json.Unmarshal(raw, &obj); err != nil {
			logger.Error("view row not parsable", "error", err)
			continue
		}
		if row, ok := spec.row(&obj); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// scanView is the client-side fallback: enumerate, fetch and filter every
// object in range.
func (s *Store) scanView(ctx context.Context, spec *MapSpec, start, end string, opts *Options) ([]ViewRow, error) {
	logger.Warn("unoptimized view evaluation, scanning full keyspace", "start", start, "end", end)
	s.metrics.RecordViewFullScan()

	actor, _, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return nil, err
	}
	admin := actor.IsAdmin(s.sec)

	backendKeys, err := s.backend.Keys(ctx, s.ns.Objects+"*")
	if err != nil {
		return nil, mapBackendErr(err, "")
	}
	sort.Strings(backendKeys)

	inRange := backendKeys[:0]
	for _, key := range backendKeys {
		id, ok := s.ns.ObjectID(key)
		if !ok || !keys.ValidID(id) {
			continue
		}
		if id < start || id > end {
			continue
		}
		inRange = append(inRange, key)
	}

	values, err := s.backend.MGet(ctx, inRange)
	if err != nil {
		return nil, mapBackendErr(err, "")
	}

	var rows []ViewRow
	for i, raw := range values {
		if raw == nil {
			continue
		}
		id, _ := s.ns.ObjectID(inRange[i])
		obj, err := decodeObject(id, raw)
		if err != nil {
			logger.Error("stored object not parsable", "id", id, "error", err)
			continue
		}
		if !admin && !acl.CheckObject(obj.ACL, actor, acl.AccessRead, s.sec, s.template.Load()) {
			continue
		}
		if !spec.matches(obj) {
			continue
		}
		if row, ok := spec.row(obj); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// reduceRows applies the view's reduce. Only the max aggregate is
// supported; everything else passes through.
func reduceRows(spec *MapSpec, rows []ViewRow) *ViewResult {
	if spec.Reduce != reduceStats {
		return &ViewResult{Rows: rows}
	}
	var max float64
	found := false
	for _, row := range rows {
		if v, ok := row.Value.(float64); ok {
			if !found || v > max {
				max = v
				found = true
			}
		}
	}
	if !found {
		return &ViewResult{}
	}
	return &ViewResult{Rows: []ViewRow{{ID: reduceStats, Value: map[string]any{"max": max}}}}
}

// GetObjectList returns all readable objects in an id range, sorted.
// Internal records are excluded unless IncludeDocs is set.
func (s *Store) GetObjectList(ctx context.Context, params ViewParams, opts *Options) (*ViewResult, error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("getObjectList", time.Since(started)) }()

	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return nil, err
	}
	admin := actor.IsAdmin(s.sec)
	if !admin && !rights.Object.List {
		return nil, s.opErr("getObjectList", storeerrors.NewPermissionDenied("list"))
	}

	start := params.StartKey
	end := params.endKey()

	pattern := s.ns.Objects + "*"
	if start != "" && strings.HasPrefix(end, start) {
		pattern = s.ns.Objects + start + "*"
	}
	backendKeys, err := s.backend.Keys(ctx, pattern)
	if err != nil {
		return nil, s.opErr("getObjectList", mapBackendErr(err, ""))
	}
	sort.Strings(backendKeys)

	selected := backendKeys[:0]
	for _, key := range backendKeys {
		id, ok := s.ns.ObjectID(key)
		if !ok || !keys.ValidID(id) {
			continue
		}
		if id < start || id > end {
			continue
		}
		if !params.IncludeDocs && keys.Internal(id) {
			continue
		}
		selected = append(selected, key)
	}

	values, err := s.backend.MGet(ctx, selected)
	if err != nil {
		return nil, s.opErr("getObjectList", mapBackendErr(err, ""))
	}

	result := &ViewResult{}
	for i, raw := range values {
		if raw == nil {
			continue
		}
		id, _ := s.ns.ObjectID(selected[i])
		obj, err := decodeObject(id, raw)
		if err != nil {
			logger.Error("stored object not parsable", "id", id, "error", err)
			continue
		}
		if !admin && !acl.CheckObject(obj.ACL, actor, acl.AccessRead, s.sec, s.template.Load()) {
			continue
		}
		result.Rows = append(result.Rows, ViewRow{ID: obj.ID, Value: obj, Doc: obj})
	}
	return result, nil
}
