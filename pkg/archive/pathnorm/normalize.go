// Package pathnorm implements the archive-name normalization and
// collision-detection rules of spec §4.7/§4.2. Segment-by-segment
// validation is grounded on bb-storage's pkg/filesystem/path package
// (Component/parser separation, rejecting ".." explicitly), adapted
// from filesystem-symlink-safe walking to flat archive-name validation:
// an archive name never needs to follow symlinks, so there is no
// ScopeWalker here, only the parse/validate half of that package.
package pathnorm

import (
	"strings"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"
)

// Normalize implements spec §4.7's "Name normalization" list:
// (1) NUL byte -> error. (2) Backslash -> forward-slash.
// (3) Absolute paths and Windows drive prefixes -> error.
// (4) ".." segments -> error. (5) Empty and "." segments are dropped.
// (6) Directories keep the trailing "/". (7) Empty result -> error.
func Normalize(name string, isDir bool) (string, error) {
	if strings.IndexByte(name, 0) >= 0 {
		return "", bferrors.New(bferrors.CodePathTraversal, "entry name %q contains a NUL byte", name)
	}
	slashed := strings.ReplaceAll(name, "\\", "/")

	if strings.HasPrefix(slashed, "/") {
		return "", bferrors.New(bferrors.CodePathTraversal, "entry name %q is an absolute path", name)
	}
	if len(slashed) >= 2 && slashed[1] == ':' && isDriveLetter(slashed[0]) {
		return "", bferrors.New(bferrors.CodePathTraversal, "entry name %q carries a Windows drive prefix", name)
	}

	segments := strings.Split(slashed, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "":
			continue
		case ".":
			continue
		case "..":
			return "", bferrors.New(bferrors.CodePathTraversal, "entry name %q contains a \"..\" segment", name)
		default:
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return "", bferrors.New(bferrors.CodePathTraversal, "entry name %q normalizes to the empty path", name)
	}

	result := strings.Join(out, "/")
	if isDir {
		result += "/"
	}
	return result, nil
}

func isDriveLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
