package coordinator

import (
	"strings"

	"ddbmw/configs"
	"ddbmw/internal/message"
)

// Kind is a classified statement's shape. DDL is routed through the
// same two-phase path as a plain write.
type Kind string

const (
	Read  Kind = configs.StmtRead
	Write Kind = configs.StmtWrite
	DDL   Kind = configs.StmtDDL
)

var writeKeywords = map[string]bool{"INSERT": true, "UPDATE": true, "DELETE": true}
var ddlKeywords = map[string]bool{"CREATE": true, "ALTER": true, "DROP": true, "TRUNCATE": true}

// Classify returns the Kind of stmt by its leading keyword,
// case-insensitive. Unrecognized leading keywords return
// BAD_STATEMENT.
func Classify(stmt string) (Kind, error) {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return "", message.NewError(message.BadStatement, "empty statement")
	}
	kw := strings.ToUpper(fields[0])
	switch {
	case kw == "SELECT":
		return Read, nil
	case writeKeywords[kw]:
		return Write, nil
	case ddlKeywords[kw]:
		return DDL, nil
	default:
		return "", message.NewError(message.BadStatement, "unrecognized leading keyword: "+kw)
	}
}
