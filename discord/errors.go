package discord

import (
	"golang.org/x/xerrors"
)

var (
	ErrPayloadNotMap    = xerrors.New("payload is not a map")
	ErrPayloadMissingOp = xerrors.New("the opcode is missing")
	ErrPayloadInvalidOp = xerrors.New("the opcode must be an integer")
	ErrInvalidSendOp    = xerrors.New("opcode cannot be sent by a client")
)
