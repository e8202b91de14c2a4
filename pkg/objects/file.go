package objects

import (
	"context"
	"encoding/json"
	"mime"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ottohome/objectdb/internal/logger"
	"github.com/ottohome/objectdb/pkg/acl"
	"github.com/ottohome/objectdb/pkg/backend"
	"github.com/ottohome/objectdb/pkg/keys"
	storeerrors "github.com/ottohome/objectdb/pkg/objects/errors"
)

// dirMarker is the placeholder file a mkdir stores, since the flat
// keyspace has no real directories.
const dirMarker = "_data.json"

// textMimeTypes lists the non-"text/" content types still delivered as
// text; everything else is binary.
var textMimeTypes = map[string]bool{
	"application/json":       true,
	"application/javascript": true,
	"application/xml":        true,
	"image/svg+xml":          true,
}

// inferMime resolves the content type and binary flag from a file name.
func inferMime(name string) (string, bool) {
	mimeType := mime.TypeByExtension(path.Ext(name))
	if mimeType == "" {
		return "application/octet-stream", true
	}
	if base, _, found := strings.Cut(mimeType, ";"); found {
		mimeType = strings.TrimSpace(base)
	}
	binary := !strings.HasPrefix(mimeType, "text/") && !textMimeTypes[mimeType]
	return mimeType, binary
}

// loadMeta reads a file's meta record. A missing or unparsable record
// yields (nil, nil): the file does not exist.
func (s *Store) loadMeta(ctx context.Context, ownerID, name string) (*FileMeta, error) {
	raw, err := s.backend.Get(ctx, s.ns.FileMetaKey(ownerID, name))
	if err == backend.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, mapBackendErr(err, name)
	}
	var meta FileMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		logger.Error("file meta not parsable", "owner", ownerID, "name", name, "error", err)
		return nil, nil
	}
	return &meta, nil
}

func (s *Store) storeMeta(ctx context.Context, ownerID, name string, meta *FileMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return storeerrors.NewParse(name, err)
	}
	return mapBackendErr(s.backend.Set(ctx, s.ns.FileMetaKey(ownerID, name), data), name)
}

// checkFileAccess validates one access kind against a (possibly absent)
// meta record plus the caller's file operation rights.
func (s *Store) checkFileAccess(meta *FileMeta, actor acl.Actor, rights acl.OperationRights, access acl.Access, name string) error {
	if actor.IsAdmin(s.sec) {
		return nil
	}
	if !rights.File.Allows(access) {
		return storeerrors.NewPermissionDenied(name)
	}
	var fileACL *acl.FileACL
	if meta != nil {
		fileACL = meta.ACL
	}
	if !acl.CheckFile(fileACL, actor, access, s.sec, s.template.Load()) {
		return storeerrors.NewPermissionDenied(name)
	}
	return nil
}

// WriteFile stores a file under (ownerID, name): the payload in the data
// record, size/type/ownership in the meta record. Options.VirtualFile
// stores a directory placeholder instead.
func (s *Store) WriteFile(ctx context.Context, ownerID, name string, data []byte, opts *Options) error {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("writeFile", time.Since(started)) }()
	return s.opErr("writeFile", s.writeFile(ctx, ownerID, name, data, opts))
}

func (s *Store) writeFile(ctx context.Context, ownerID, name string, data []byte, opts *Options) error {
	if !keys.ValidID(ownerID) {
		return storeerrors.NewInvalidID(ownerID)
	}
	name = keys.NormalizePath(name)
	if name == "" {
		return storeerrors.NewNotFound(name)
	}

	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return err
	}
	meta, err := s.loadMeta(ctx, ownerID, name)
	if err != nil {
		return err
	}
	if err := s.checkFileAccess(meta, actor, rights, acl.AccessWrite, name); err != nil {
		return err
	}

	if opts != nil && opts.VirtualFile {
		return s.storeMeta(ctx, ownerID, name, &FileMeta{NotExists: true, VirtualFile: true})
	}

	now := time.Now().UnixMilli()
	if meta == nil || meta.NotExists {
		meta = &FileMeta{CreatedAt: now}
	}
	if meta.ACL == nil {
		meta.ACL = s.newFileACL(actor, opts)
	}
	meta.NotExists = false
	meta.Stats = FileStats{Size: int64(len(data))}
	meta.ModifiedAt = now

	mimeType, binary := inferMime(name)
	if opts != nil && opts.MimeType != "" {
		mimeType = opts.MimeType
	}
	meta.MimeType = mimeType
	meta.Binary = binary

	if err := s.backend.Set(ctx, s.ns.FileDataKey(ownerID, name), data); err != nil {
		return mapBackendErr(err, name)
	}
	return s.storeMeta(ctx, ownerID, name, meta)
}

// newFileACL builds the rights for a freshly created file.
func (s *Store) newFileACL(actor acl.Actor, opts *Options) *acl.FileACL {
	t := s.template.Load()
	fileACL := &acl.FileACL{Permissions: acl.DefaultFilePerm}
	if t != nil {
		fileACL.Owner = t.Owner
		fileACL.OwnerGroup = t.OwnerGroup
		if t.File != 0 {
			fileACL.Permissions = t.File
		}
	}
	if actor.User != "" && actor.User != s.sec.AdminUser {
		fileACL.Owner = actor.User
	}
	if opts != nil {
		if opts.Owner != "" {
			fileACL.Owner = opts.Owner
		}
		if opts.OwnerGroup != "" {
			fileACL.OwnerGroup = opts.OwnerGroup
		}
		if opts.ModeSet {
			fileACL.Permissions = opts.Mode
		}
	}
	if fileACL.OwnerGroup == "" {
		fileACL.OwnerGroup = s.sec.AdminGroup
	}
	return fileACL
}

// ReadFile returns a file's payload and content type.
func (s *Store) ReadFile(ctx context.Context, ownerID, name string, opts *Options) ([]byte, string, error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("readFile", time.Since(started)) }()

	name = keys.NormalizePath(name)
	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return nil, "", err
	}
	meta, err := s.loadMeta(ctx, ownerID, name)
	if err != nil {
		return nil, "", s.opErr("readFile", err)
	}
	if meta == nil || meta.NotExists {
		return nil, "", s.opErr("readFile", storeerrors.NewNotFound(name))
	}
	if err := s.checkFileAccess(meta, actor, rights, acl.AccessRead, name); err != nil {
		return nil, "", s.opErr("readFile", err)
	}

	data, err := s.backend.Get(ctx, s.ns.FileDataKey(ownerID, name))
	if err != nil {
		return nil, "", s.opErr("readFile", mapBackendErr(err, name))
	}
	return data, meta.MimeType, nil
}

// FileExists reports whether a file's meta record is present.
func (s *Store) FileExists(ctx context.Context, ownerID, name string) (bool, error) {
	meta, err := s.loadMeta(ctx, ownerID, keys.NormalizePath(name))
	if err != nil {
		return false, err
	}
	return meta != nil && !meta.NotExists, nil
}

// Unlink deletes a file, or a whole directory when name addresses one.
func (s *Store) Unlink(ctx context.Context, ownerID, name string, opts *Options) error {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("unlink", time.Since(started)) }()

	name = keys.NormalizePath(name)
	if name == "" {
		return s.opErr("unlink", storeerrors.NewNotFound(name))
	}
	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return err
	}
	meta, err := s.loadMeta(ctx, ownerID, name)
	if err != nil {
		return s.opErr("unlink", err)
	}
	if err := s.checkFileAccess(meta, actor, rights, acl.AccessDelete, name); err != nil {
		return s.opErr("unlink", err)
	}

	if meta == nil || meta.NotExists {
		// No such file; it may be a directory.
		_, err := s.rm(ctx, ownerID, name, opts)
		return s.opErr("unlink", err)
	}
	if err := s.backend.Del(ctx, s.ns.FileDataKey(ownerID, name)); err != nil {
		return s.opErr("unlink", mapBackendErr(err, name))
	}
	return s.opErr("unlink", mapBackendErr(s.backend.Del(ctx, s.ns.FileMetaKey(ownerID, name)), name))
}

// DeleteFile is an alias for Unlink.
func (s *Store) DeleteFile(ctx context.Context, ownerID, name string, opts *Options) error {
	return s.Unlink(ctx, ownerID, name, opts)
}

// Rm deletes every file matching a name pattern (a directory name works
// too) and returns descriptors of the removed files.
func (s *Store) Rm(ctx context.Context, ownerID, pattern string, opts *Options) ([]RemovedFile, error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("rm", time.Since(started)) }()

	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin(s.sec) && !rights.File.Delete {
		return nil, s.opErr("rm", storeerrors.NewPermissionDenied(pattern))
	}
	removed, err := s.rm(ctx, ownerID, pattern, opts)
	return removed, s.opErr("rm", err)
}

func (s *Store) rm(ctx context.Context, ownerID, pattern string, opts *Options) ([]RemovedFile, error) {
	metaKeys, err := s.matchingMetaKeys(ctx, ownerID, pattern)
	if err != nil {
		return nil, err
	}
	if len(metaKeys) == 0 {
		return nil, storeerrors.NewNotFound(pattern)
	}
	metaKeys, err = s.filterMetaKeys(ctx, metaKeys, opts, acl.AccessRead)
	if err != nil {
		return nil, err
	}

	var removed []RemovedFile
	for _, metaKey := range metaKeys {
		_, name, _, _ := s.ns.ParseFileKey(metaKey)
		if err := s.backend.Del(ctx, strings.TrimSuffix(metaKey, keys.KindMeta)+keys.KindData); err != nil {
			return removed, mapBackendErr(err, name)
		}
		if err := s.backend.Del(ctx, metaKey); err != nil {
			return removed, mapBackendErr(err, name)
		}
		dir, file := path.Split(name)
		removed = append(removed, RemovedFile{File: file, Path: strings.TrimSuffix(dir, "/")})
	}
	return removed, nil
}

// ReadDir lists one directory level: the files directly inside it plus
// one entry per immediate subdirectory. An empty ownerID lists the owner
// ids that hold any files.
func (s *Store) ReadDir(ctx context.Context, ownerID, name string, opts *Options) ([]FileInfo, error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("readDir", time.Since(started)) }()

	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin(s.sec) && !rights.File.List {
		return nil, s.opErr("readDir", storeerrors.NewPermissionDenied(name))
	}

	if ownerID == "" || ownerID == "*" {
		infos, err := s.listOwners(ctx)
		return infos, s.opErr("readDir", err)
	}

	name = keys.NormalizePath(name)
	base := name
	if base != "" {
		base += "/"
	}

	metaKeys, err := s.matchingMetaKeys(ctx, ownerID, base+"*")
	if err != nil {
		return nil, s.opErr("readDir", err)
	}
	if len(metaKeys) == 0 {
		return nil, s.opErr("readDir", storeerrors.NewNotFound(name))
	}

	var fileKeys []string
	var dirs []string
	seen := map[string]bool{}
	for _, metaKey := range metaKeys {
		_, fullName, _, ok := s.ns.ParseFileKey(metaKey)
		if !ok || !strings.HasPrefix(fullName, base) {
			continue
		}
		rel := fullName[len(base):]
		if slash := strings.IndexByte(rel, '/'); slash != -1 {
			dir := rel[:slash]
			if !seen[dir] {
				seen[dir] = true
				dirs = append(dirs, dir)
			}
			continue
		}
		if rel == dirMarker {
			continue
		}
		fileKeys = append(fileKeys, metaKey)
	}
	sort.Strings(dirs)

	values, err := s.backend.MGet(ctx, fileKeys)
	if err != nil {
		return nil, s.opErr("readDir", mapBackendErr(err, name))
	}

	admin := actor.IsAdmin(s.sec)
	var result []FileInfo
	for i, raw := range values {
		if raw == nil {
			continue
		}
		_, fullName, _, _ := s.ns.ParseFileKey(fileKeys[i])
		rel := fullName[len(base):]

		// Interleave the collected subdirectories in name order.
		for len(dirs) > 0 && dirs[0] < rel {
			result = append(result, FileInfo{File: dirs[0], IsDir: true})
			dirs = dirs[1:]
		}

		var meta FileMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			logger.Error("file meta not parsable", "owner", ownerID, "name", fullName, "error", err)
			continue
		}
		if meta.VirtualFile {
			continue
		}
		if !admin && !acl.CheckFile(meta.ACL, actor, acl.AccessRead, s.sec, s.template.Load()) {
			continue
		}

		rowACL := meta.ACL
		if rowACL == nil {
			rowACL = &acl.FileACL{}
		}
		if admin {
			rowACL.Read, rowACL.Write = true, true
		} else {
			rowACL.Read = rowACL.Permissions&acl.EveryRead != 0
			rowACL.Write = rowACL.Permissions&acl.EveryWrite != 0
		}
		result = append(result, FileInfo{
			File:       rel,
			Stats:      meta.Stats,
			IsDir:      false,
			ACL:        rowACL,
			MimeType:   meta.MimeType,
			CreatedAt:  meta.CreatedAt,
			ModifiedAt: meta.ModifiedAt,
		})
	}
	for _, dir := range dirs {
		result = append(result, FileInfo{File: dir, IsDir: true})
	}
	return result, nil
}

// listOwners enumerates the distinct owner ids holding files.
func (s *Store) listOwners(ctx context.Context) ([]FileInfo, error) {
	allKeys, err := s.backend.Keys(ctx, s.ns.Files+"*")
	if err != nil {
		return nil, mapBackendErr(err, "")
	}
	sort.Strings(allKeys)

	var result []FileInfo
	last := ""
	for _, key := range allKeys {
		owner, _, _, ok := s.ns.ParseFileKey(key)
		if !ok || owner == last {
			continue
		}
		last = owner
		result = append(result, FileInfo{File: owner, IsDir: true})
	}
	return result, nil
}

// RenameFile renames one file, or every file under a directory when
// oldName addresses one.
func (s *Store) RenameFile(ctx context.Context, ownerID, oldName, newName string, opts *Options) error {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("renameFile", time.Since(started)) }()
	return s.opErr("renameFile", s.renameFile(ctx, ownerID, oldName, newName, opts))
}

func (s *Store) renameFile(ctx context.Context, ownerID, oldName, newName string, opts *Options) error {
	oldName = keys.NormalizePath(oldName)
	newName = keys.NormalizePath(newName)
	if oldName == "" || newName == "" {
		return storeerrors.NewNotFound(oldName)
	}

	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return err
	}
	meta, err := s.loadMeta(ctx, ownerID, oldName)
	if err != nil {
		return err
	}
	if err := s.checkFileAccess(meta, actor, rights, acl.AccessWrite, oldName); err != nil {
		return err
	}

	if meta != nil && !meta.NotExists {
		if err := s.backend.Rename(ctx, s.ns.FileDataKey(ownerID, oldName), s.ns.FileDataKey(ownerID, newName)); err != nil && err != backend.ErrNotFound {
			return mapBackendErr(err, oldName)
		}
		return mapBackendErr(s.backend.Rename(ctx, s.ns.FileMetaKey(ownerID, oldName), s.ns.FileMetaKey(ownerID, newName)), oldName)
	}

	// Directory rename: move every file under the old prefix.
	metaKeys, err := s.matchingMetaKeys(ctx, ownerID, oldName+"/*")
	if err != nil {
		return err
	}
	if len(metaKeys) == 0 {
		return storeerrors.NewNotFound(oldName)
	}
	metaKeys, err = s.filterMetaKeys(ctx, metaKeys, opts, acl.AccessRead)
	if err != nil {
		return err
	}

	oldBase := s.ns.Files + ownerID + keys.Delim + oldName + "/"
	newBase := s.ns.Files + ownerID + keys.Delim + newName + "/"
	for _, metaKey := range metaKeys {
		dataKey := strings.TrimSuffix(metaKey, keys.KindMeta) + keys.KindData
		if err := s.backend.Rename(ctx, dataKey, strings.Replace(dataKey, oldBase, newBase, 1)); err != nil && err != backend.ErrNotFound {
			return mapBackendErr(err, oldName)
		}
		if err := s.backend.Rename(ctx, metaKey, strings.Replace(metaKey, oldBase, newBase, 1)); err != nil && err != backend.ErrNotFound {
			return mapBackendErr(err, oldName)
		}
	}
	return nil
}

// TouchFile refreshes a file's modification time.
func (s *Store) TouchFile(ctx context.Context, ownerID, name string, opts *Options) error {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("touchFile", time.Since(started)) }()

	name = keys.NormalizePath(name)
	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return err
	}
	meta, err := s.loadMeta(ctx, ownerID, name)
	if err != nil {
		return s.opErr("touchFile", err)
	}
	if meta == nil || meta.NotExists {
		return s.opErr("touchFile", storeerrors.NewNotFound(name))
	}
	if err := s.checkFileAccess(meta, actor, rights, acl.AccessWrite, name); err != nil {
		return s.opErr("touchFile", err)
	}
	meta.ModifiedAt = time.Now().UnixMilli()
	return s.opErr("touchFile", s.storeMeta(ctx, ownerID, name, meta))
}

// Mkdir materializes a directory by storing its placeholder file.
func (s *Store) Mkdir(ctx context.Context, ownerID, dirName string, opts *Options) error {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("mkdir", time.Since(started)) }()

	dirName = keys.NormalizePath(dirName)
	if dirName == "" {
		return s.opErr("mkdir", storeerrors.NewInvalidParameter("empty directory name"))
	}
	dirOpts := &Options{}
	if opts != nil {
		dirOpts = &Options{User: opts.User, Group: opts.Group, Owner: opts.Owner, OwnerGroup: opts.OwnerGroup}
	}
	dirOpts.VirtualFile = true
	return s.opErr("mkdir", s.writeFile(ctx, ownerID, dirName+"/"+dirMarker, nil, dirOpts))
}

// ChownFile re-owns every file matching a name pattern and returns the
// affected rows. Owner must be set; an empty OwnerGroup is backfilled
// with the owner's first group.
func (s *Store) ChownFile(ctx context.Context, ownerID, pattern string, opts *Options) ([]FileInfo, error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("chownFile", time.Since(started)) }()

	if opts == nil || opts.Owner == "" {
		return nil, s.opErr("chownFile", storeerrors.NewInvalidParameter("new owner missing"))
	}
	ownerGroup := opts.OwnerGroup
	if ownerGroup == "" {
		if groups, _, err := s.resolver.Resolve(ctx, opts.Owner); err == nil && len(groups) > 0 {
			ownerGroup = groups[0]
		}
	}

	rows, err := s.updateMatchingFiles(ctx, ownerID, pattern, opts, func(meta *FileMeta) {
		if meta.ACL == nil {
			meta.ACL = &acl.FileACL{Permissions: acl.DefaultFilePerm}
		}
		meta.ACL.Owner = opts.Owner
		if ownerGroup != "" {
			meta.ACL.OwnerGroup = ownerGroup
		}
	})
	return rows, s.opErr("chownFile", err)
}

// ChmodFile applies the permission mask in Options.Mode to every file
// matching a name pattern and returns the affected rows.
func (s *Store) ChmodFile(ctx context.Context, ownerID, pattern string, opts *Options) ([]FileInfo, error) {
	started := time.Now()
	defer func() { s.metrics.RecordOperation("chmodFile", time.Since(started)) }()

	if opts == nil || !opts.ModeSet {
		return nil, s.opErr("chmodFile", storeerrors.NewInvalidParameter("permission mask missing"))
	}
	rows, err := s.updateMatchingFiles(ctx, ownerID, pattern, opts, func(meta *FileMeta) {
		if meta.ACL == nil {
			meta.ACL = &acl.FileACL{}
		}
		meta.ACL.Permissions = opts.Mode
	})
	return rows, s.opErr("chmodFile", err)
}

// updateMatchingFiles rewrites the meta record of every matching file
// the caller may write, strictly one file at a time.
func (s *Store) updateMatchingFiles(ctx context.Context, ownerID, pattern string, opts *Options, modify func(*FileMeta)) ([]FileInfo, error) {
	actor, rights, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin(s.sec) && !rights.File.Write {
		return nil, storeerrors.NewPermissionDenied(pattern)
	}

	metaKeys, err := s.matchingMetaKeys(ctx, ownerID, pattern)
	if err != nil {
		return nil, err
	}
	if len(metaKeys) == 0 {
		return nil, storeerrors.NewNotFound(pattern)
	}
	metaKeys, err = s.filterMetaKeys(ctx, metaKeys, opts, acl.AccessWrite)
	if err != nil {
		return nil, err
	}

	var rows []FileInfo
	for _, metaKey := range metaKeys {
		raw, err := s.backend.Get(ctx, metaKey)
		if err == backend.ErrNotFound {
			continue
		}
		if err != nil {
			return rows, mapBackendErr(err, metaKey)
		}
		_, name, _, _ := s.ns.ParseFileKey(metaKey)
		var meta FileMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			logger.Error("file meta not parsable", "owner", ownerID, "name", name, "error", err)
			continue
		}
		if meta.VirtualFile {
			continue
		}

		modify(&meta)
		if err := s.storeMeta(ctx, ownerID, name, &meta); err != nil {
			return rows, err
		}
		rows = append(rows, FileInfo{
			File:       name,
			Stats:      meta.Stats,
			ACL:        meta.ACL,
			MimeType:   meta.MimeType,
			CreatedAt:  meta.CreatedAt,
			ModifiedAt: meta.ModifiedAt,
		})
	}
	return rows, nil
}

// matchingMetaKeys enumerates the sorted meta keys of files whose name
// matches the pattern. A plain directory name matches everything below
// it.
func (s *Store) matchingMetaKeys(ctx context.Context, ownerID, pattern string) ([]string, error) {
	pattern = keys.NormalizePath(pattern)
	if pattern == "" {
		pattern = "*"
	} else if !strings.ContainsRune(pattern, '*') {
		exact := s.ns.FileMetaKey(ownerID, pattern)
		_, err := s.backend.Get(ctx, exact)
		if err == nil {
			return []string{exact}, nil
		}
		if err != backend.ErrNotFound {
			return nil, mapBackendErr(err, pattern)
		}
		pattern += "/*"
	}

	glob := s.ns.FileKey(ownerID, pattern, "")
	if !strings.HasSuffix(glob, "*") {
		glob += keys.Delim + "*"
	}
	found, err := s.backend.Keys(ctx, glob)
	if err != nil {
		return nil, mapBackendErr(err, pattern)
	}
	sort.Strings(found)

	metaKeys := found[:0]
	for _, key := range found {
		if strings.HasSuffix(key, keys.Delim+keys.KindMeta) {
			metaKeys = append(metaKeys, key)
		}
	}
	return metaKeys, nil
}

// filterMetaKeys drops the keys whose meta record denies the caller the
// given access. Administrative callers skip the fetch entirely.
func (s *Store) filterMetaKeys(ctx context.Context, metaKeys []string, opts *Options, access acl.Access) ([]string, error) {
	actor, _, err := opts.resolve(ctx, s.sec, s.resolver)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin(s.sec) {
		return metaKeys, nil
	}

	values, err := s.backend.MGet(ctx, metaKeys)
	if err != nil {
		return nil, mapBackendErr(err, "")
	}
	allowed := metaKeys[:0]
	for i, raw := range values {
		if raw == nil {
			continue
		}
		var meta FileMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			logger.Error("file meta not parsable", "key", metaKeys[i], "error", err)
			continue
		}
		if acl.CheckFile(meta.ACL, actor, access, s.sec, s.template.Load()) {
			allowed = append(allowed, metaKeys[i])
		}
	}
	return allowed, nil
}
