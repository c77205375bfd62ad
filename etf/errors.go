package etf

import (
	"golang.org/x/xerrors"
)

var (
	// ErrDecode is wrapped by every error returned from Decode.
	ErrDecode = xerrors.New("etf: decode failed")

	// ErrEncode is wrapped by every error returned from Encode.
	ErrEncode = xerrors.New("etf: encode failed")

	// ErrBuild is returned by From when a value has no term representation.
	ErrBuild = xerrors.New("etf: cannot build term")
)

var (
	ErrInvalidVersion = xerrors.New("missing version byte")
	ErrTruncated      = xerrors.New("unexpected end of input")
	ErrUnsupportedTag = xerrors.New("unsupported tag")
	ErrImproperList   = xerrors.New("improper lists are not supported")
	ErrTrailingBytes  = xerrors.New("trailing bytes after term")
	ErrTooDeep        = xerrors.New("term nesting too deep")
	ErrInvalidFloat   = xerrors.New("invalid float")
	ErrNilTerm        = xerrors.New("nil term")
	ErrTooLarge       = xerrors.New("term too large")
)
