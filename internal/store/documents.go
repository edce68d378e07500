package store

import (
	"bytes"
	"strings"
)

// DefaultChunkBytes is the document window size.
const DefaultChunkBytes = 16 * 1024

// SplitDocuments cuts content into fixed windows of chunkBytes. Boundaries
// depend only on len(content), so the same file always yields the same IDs.
func SplitDocuments(path string, content []byte, chunkBytes int) []Document {
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	if len(content) == 0 {
		return nil
	}

	docs := make([]Document, 0, (len(content)+chunkBytes-1)/chunkBytes)
	line := 1
	for start, ordinal := 0, 0; start < len(content); start, ordinal = start+chunkBytes, ordinal+1 {
		end := min(start+chunkBytes, len(content))
		window := content[start:end]

		newlines := bytes.Count(window, []byte{'\n'})
		endLine := line + newlines
		if newlines > 0 && window[len(window)-1] == '\n' {
			endLine--
		}

		docs = append(docs, Document{
			ID:        DocumentID(path, ordinal),
			Path:      path,
			Ordinal:   ordinal,
			StartByte: start,
			EndByte:   end,
			StartLine: line,
			EndLine:   endLine,
			Content:   string(window),
			indexText: wordWindow(content, start, end),
			split:     true,
		})
		line += newlines
	}
	return docs
}

// wordWindow widens content[start:end] to word boundaries: a word running
// past end is finished, and a word entering from before start is dropped.
func wordWindow(content []byte, start, end int) string {
	for end < len(content) && end > start && isWordByte(content[end-1]) && isWordByte(content[end]) {
		end++
	}
	for start > 0 && start < end && isWordByte(content[start-1]) && isWordByte(content[start]) {
		start++
	}
	return strings.ToValidUTF8(string(content[start:end]), "\uFFFD")
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// documentFor returns the ID of the document whose window holds offset.
func documentFor(docs []Document, offset int) string {
	for _, d := range docs {
		if offset >= d.StartByte && offset < d.EndByte {
			return d.ID
		}
	}
	if len(docs) > 0 {
		return docs[len(docs)-1].ID
	}
	return ""
}
