package pathnorm

import (
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// CollisionKind classifies why two entry names conflict (spec §4.2/§8).
type CollisionKind int

const (
	CollisionNone CollisionKind = iota
	CollisionDuplicate
	CollisionUnicodeNFC
	CollisionCasefold
)

func (k CollisionKind) String() string {
	switch k {
	case CollisionDuplicate:
		return "duplicate"
	case CollisionUnicodeNFC:
		return "unicode_nfc"
	case CollisionCasefold:
		return "casefold"
	default:
		return "none"
	}
}

var caseFolder = cases.Fold()

// Collision describes one detected conflict between a newly-seen name
// and a previously-indexed one.
type Collision struct {
	Kind         CollisionKind
	Name         string
	ConflictsWith string
}

// Index maintains the three collision maps spec §4.2 requires: exact
// normalized name, NFC(name), and full-Unicode case-fold(name) (with
// directory-trailing-slash normalization folded in, since a file
// "readme" and a directory "README/" collide the same way "README" and
// "readme" do).
type Index struct {
	exact    map[string]string // normalized name -> first-seen normalized name (itself)
	nfc      map[string]string // NFC form -> first-seen normalized name
	casefold map[string]string // case-folded form -> first-seen normalized name
}

// NewIndex builds an empty collision index.
func NewIndex() *Index {
	return &Index{
		exact:    make(map[string]string),
		nfc:      make(map[string]string),
		casefold: make(map[string]string),
	}
}

// Add registers name (already pathnorm.Normalize'd) and reports every
// collision it triggers against names already in the index, in the
// fixed order {duplicate, unicode_nfc, casefold} per spec §8's table.
func (ix *Index) Add(name string) []Collision {
	var out []Collision

	if prior, ok := ix.exact[name]; ok {
		out = append(out, Collision{Kind: CollisionDuplicate, Name: name, ConflictsWith: prior})
	} else {
		ix.exact[name] = name
	}

	nfcForm := norm.NFC.String(name)
	if prior, ok := ix.nfc[nfcForm]; ok && prior != name {
		out = append(out, Collision{Kind: CollisionUnicodeNFC, Name: name, ConflictsWith: prior})
	} else if _, ok := ix.nfc[nfcForm]; !ok {
		ix.nfc[nfcForm] = name
	}

	foldForm := caseFolder.String(strings.TrimSuffix(name, "/"))
	if prior, ok := ix.casefold[foldForm]; ok && prior != name {
		out = append(out, Collision{Kind: CollisionCasefold, Name: name, ConflictsWith: prior})
	} else if _, ok := ix.casefold[foldForm]; !ok {
		ix.casefold[foldForm] = name
	}

	return out
}

// Has reports whether name is already present in either the exact or
// case-fold index, the check Rename uses to pick a collision-free
// candidate (spec §4.7: "smallest N such that the candidate collides
// in neither the exact nor case-fold index").
func (ix *Index) Has(name string) bool {
	if _, ok := ix.exact[name]; ok {
		return true
	}
	_, ok := ix.casefold[caseFolder.String(strings.TrimSuffix(name, "/"))]
	return ok
}

// Rename generates "name~N[.ext][/]" with the smallest N >= 1 such
// that the candidate collides in neither the exact nor case-fold
// index, per spec §4.7.
func Rename(ix *Index, name string) string {
	dir := strings.HasSuffix(name, "/")
	trimmed := strings.TrimSuffix(name, "/")
	ext := path.Ext(trimmed)
	base := strings.TrimSuffix(trimmed, ext)

	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s~%d%s", base, n, ext)
		if dir {
			candidate += "/"
		}
		if !ix.Has(candidate) {
			return candidate
		}
	}
}
