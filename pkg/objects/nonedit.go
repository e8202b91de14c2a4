package objects

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	storeerrors "github.com/ottohome/objectdb/pkg/objects/errors"
)

// Marker values inside a nonEdit block. NoChange pins an attribute to the
// value it had before the update, Delete removes it.
const (
	markerNoChange = "__no_change__"
	markerDelete   = "__delete__"
)

const (
	hashPrefix     = "pbkdf2$"
	hashIterations = 10000
	hashKeyLen     = 32
	hashSaltLen    = 16
)

// hashProtectPassword derives a salted hash in the form
// "pbkdf2$<saltB64>$<keyB64>".
func hashProtectPassword(password string) string {
	salt := make([]byte, hashSaltLen)
	_, _ = rand.Read(salt)
	key := pbkdf2.Key([]byte(password), salt, hashIterations, hashKeyLen, sha256.New)
	return hashPrefix + base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(key)
}

// verifyProtectPassword checks a password against a stored hash. Hashes
// written by older releases are plain unsalted sha256 in base64; both
// forms verify.
func verifyProtectPassword(password, stored string) bool {
	if rest, ok := strings.CutPrefix(stored, hashPrefix); ok {
		saltB64, keyB64, found := strings.Cut(rest, "$")
		if !found {
			return false
		}
		salt, err := base64.StdEncoding.DecodeString(saltB64)
		if err != nil {
			return false
		}
		want, err := base64.StdEncoding.DecodeString(keyB64)
		if err != nil {
			return false
		}
		got := pbkdf2.Key([]byte(password), salt, hashIterations, hashKeyLen, sha256.New)
		return subtle.ConstantTimeCompare(got, want) == 1
	}
	sum := sha256.Sum256([]byte(password))
	legacy := base64.StdEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(legacy), []byte(stored)) == 1
}

// copyProtected recursively applies a nonEdit block onto the object.
// Scalar values (arrays included) overwrite; the markers resolve against
// original. Marker handling is suspended inside the nonEdit subtree
// itself so a stored marker string survives verbatim.
func copyProtected(src, dst, original map[string]any, inNonEdit bool) {
	for attr, v := range src {
		if sub, ok := v.(map[string]any); ok {
			dm, ok := dst[attr].(map[string]any)
			if !ok {
				dm = make(map[string]any)
				dst[attr] = dm
			}
			var om map[string]any
			if original != nil {
				om, _ = original[attr].(map[string]any)
			}
			copyProtected(sub, dm, om, inNonEdit || attr == "nonEdit")
			continue
		}
		switch {
		case v == markerNoChange && original != nil && !inNonEdit:
			if ov, present := original[attr]; present {
				dst[attr] = cloneValue(ov)
			}
		case v == markerDelete && !inNonEdit:
			delete(dst, attr)
		default:
			dst[attr] = cloneValue(v)
		}
	}
}

// checkNonEditable enforces the protected block of an existing object on
// an incoming update. With no password, the protected attributes are
// silently restored from the stored object; with the correct password the
// incoming block replaces the stored one; with a wrong password the
// update is rejected.
func checkNonEditable(id string, old, incoming map[string]any) error {
	if old == nil {
		if ne, ok := incoming["nonEdit"].(map[string]any); ok {
			sealBlock(ne)
		}
		return nil
	}
	oldNE, _ := old["nonEdit"].(map[string]any)
	newNE, _ := incoming["nonEdit"].(map[string]any)
	if oldNE == nil && newNE == nil {
		return nil
	}

	effective := oldNE

	if hash, _ := stringField(oldNE, "passHash"); hash != "" {
		password, _ := stringField(newNE, "password")
		if password != "" {
			if !verifyProtectPassword(password, hash) {
				delete(incoming, "nonEdit")
				return storeerrors.NewProtectedField(id)
			}
			delete(newNE, "password")
			newNE["passHash"] = hashProtectPassword(password)
			copyProtected(newNE, incoming, incoming, false)
			cleanupProtected(incoming)
			return nil
		}
		incoming["nonEdit"] = cloneValue(oldNE)
	} else if newNE != nil {
		sealBlock(newNE)
		effective = newNE
	}

	copyProtected(effective, incoming, old, false)
	cleanupProtected(incoming)
	return nil
}

// sealBlock turns a plain-text password inside a fresh nonEdit block into
// a stored hash.
func sealBlock(ne map[string]any) {
	if password, _ := stringField(ne, "password"); password != "" {
		delete(ne, "password")
		ne["passHash"] = hashProtectPassword(password)
	}
}

func cleanupProtected(obj map[string]any) {
	delete(obj, "passHash")
	if ne, ok := obj["nonEdit"].(map[string]any); ok {
		delete(ne, "password")
	}
}

func stringField(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}
