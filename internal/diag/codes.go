package diag

import (
	"fmt"
)

// Code identifies a diagnostic kind. Ranges mirror the pipeline stages
// so rendered output sorts naturally by origin.
type Code uint16

const (
	UnknownCode Code = 0

	// Lexical
	LexUnknownChar        Code = 1001
	LexUnterminatedString Code = 1002
	LexUnterminatedChar   Code = 1003
	LexBadNumber          Code = 1004
	LexBadEscape          Code = 1005
	LexUnterminatedBlockComment Code = 1006

	// Syntax
	SynUnexpectedToken   Code = 2001
	SynExpectIdentifier  Code = 2002
	SynUnclosedDelimiter Code = 2003
	SynBadDirective      Code = 2004
	SynExpectExpression  Code = 2005
	SynExpectType        Code = 2006
	SynBadAssignTarget   Code = 2007
	SynDuplicateField    Code = 2008

	// Name resolution
	NameUnresolved Code = 3001
	NameDuplicate  Code = 3002
	NameNotAModule Code = 3003

	// Types
	TypeMismatch          Code = 4001
	TypeNotCallable       Code = 4002
	TypeBadCast           Code = 4003
	TypeNotIndexable      Code = 4004
	TypeNoSuchMember      Code = 4005
	TypeBadArgCount       Code = 4006
	TypeSelfReferential   Code = 4007
	TypeImmutableWrite    Code = 4008
	TypeBadDiscriminant   Code = 4009
	TypeMutCapture        Code = 4010
	TypeBadEntrypoint     Code = 4011
	TypeRecursiveUnsized  Code = 4012

	// Constness
	ConstRequired   Code = 4501
	ConstNotAType   Code = 4502

	// Comptime
	ComptimeTrap       Code = 5001
	ComptimeLimitation Code = 5002
	ComptimeDepth      Code = 5003
	ComptimeBudget     Code = 5004

	// Codegen
	CodegenUnsupported Code = 6001

	// Toolchain
	LinkerFailed Code = 7001

	// Internal invariant violations
	Internal Code = 9001
)

func (c Code) String() string {
	return fmt.Sprintf("CAPY%04d", uint16(c))
}
