package mysql

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/velmie/offsync"
)

// MySQL limits identifiers, including trigger names, to 64 characters.
const maxIdentifierLen = 64

func triggerName(t offsync.Table, suffix string) string {
	name := "_sync_" + strings.ReplaceAll(t.SchemaKey, ".", "_") + "_" + suffix
	if len(name) <= maxIdentifierLen {
		return name
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	tail := fmt.Sprintf("_%08x_%s", h.Sum32(), suffix)

	return name[:maxIdentifierLen-len(tail)] + tail
}

func quoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)

	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
