package search

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ResultID is the stable identifier of a result location. Symbol-level
// results key on the symbol ID; document-level results key on the line
// range. The same location under the same mode always hashes the same.
func ResultID(path, symbolID string, startLine, endLine int, mode Mode) string {
	loc := symbolID
	if loc == "" {
		loc = fmt.Sprintf("L%d-%d", startLine, endLine)
	}
	sum := sha256.Sum256([]byte(path + "\x00" + loc + "\x00" + string(mode)))
	return hex.EncodeToString(sum[:])[:16]
}
