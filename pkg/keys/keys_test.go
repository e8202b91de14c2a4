package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppendsSingleDot(t *testing.T) {
	assert.Equal(t, "cfg.", New("cfg").Prefix)
	assert.Equal(t, "cfg.", New("cfg.").Prefix)
	assert.Equal(t, "cfg.", New("").Prefix)
	assert.Equal(t, "custom.", New("custom").Prefix)
}

func TestObjectKeyRoundTrip(t *testing.T) {
	ns := New("cfg")
	key := ns.ObjectKey("system.adapter.web.0")
	assert.Equal(t, "cfg.o.system.adapter.web.0", key)

	id, ok := ns.ObjectID(key)
	require.True(t, ok)
	assert.Equal(t, "system.adapter.web.0", id)

	_, ok = ns.ObjectID("other.o.some.id")
	assert.False(t, ok)
}

func TestFileKeyRoundTrip(t *testing.T) {
	ns := New("cfg")

	meta := ns.FileMetaKey("vis.0", "main/img/logo.png")
	assert.Equal(t, "cfg.f.vis.0$%$main/img/logo.png$%$meta", meta)
	data := ns.FileDataKey("vis.0", "main/img/logo.png")
	assert.Equal(t, "cfg.f.vis.0$%$main/img/logo.png$%$data", data)

	owner, name, kind, ok := ns.ParseFileKey(meta)
	require.True(t, ok)
	assert.Equal(t, "vis.0", owner)
	assert.Equal(t, "main/img/logo.png", name)
	assert.Equal(t, KindMeta, kind)
}

func TestParseFileKeyRejectsMalformed(t *testing.T) {
	ns := New("cfg")

	_, _, _, ok := ns.ParseFileKey("cfg.o.some.object")
	assert.False(t, ok)

	_, _, _, ok = ns.ParseFileKey("cfg.f.vis.0$%$name")
	assert.False(t, ok)

	_, _, _, ok = ns.ParseFileKey("cfg.f.vis.0$%$name$%$other")
	assert.False(t, ok)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "a/b/c", NormalizePath("/a//b///c/"))
	assert.Equal(t, "", NormalizePath("/"))
	assert.Equal(t, "main", NormalizePath("main"))
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("system.adapter.web.0"))
	assert.True(t, ValidID("_design/system"))

	assert.False(t, ValidID(""))
	assert.False(t, ValidID("with*wildcard"))
	assert.False(t, ValidID("with?question"))
	assert.False(t, ValidID("with[bracket"))
	assert.False(t, ValidID(`with"quote`))
	assert.False(t, ValidID("a$%$b"))
}

func TestInternal(t *testing.T) {
	assert.True(t, Internal("_design/system"))
	assert.False(t, Internal("system.config"))
}
