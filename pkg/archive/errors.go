package archive

import "github.com/Ismail-elkorchi/bytefold-sub000/pkg/bferrors"

func errEntryInvariant(format string, args ...interface{}) error {
	return bferrors.New(bferrors.CodeBadHeader, format, args...)
}
