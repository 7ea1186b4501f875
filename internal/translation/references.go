package translation

import (
	"fmt"
	"strings"

	"github.com/tokligence/ragflow-pipeline/internal/ragflow"
)

const referencesHeading = "\n\n### references\n\n"

// Link is one deduplicated citation in a references block.
type Link struct {
	DocumentID   string
	DocumentName string
	Ext          string
	URL          string
}

// ReferencesBlock renders the markdown references block for chunks. Chunks
// pointing at the same document id produce a single entry; entries keep the
// order in which documents first appear.
func ReferencesBlock(baseURL string, chunks []ragflow.Chunk) Fragment {
	var sb strings.Builder
	sb.WriteString(referencesHeading)

	seen := make(map[ragflow.DocumentID]struct{}, len(chunks))
	links := make([]Link, 0, len(chunks))
	for _, chunk := range chunks {
		if _, dup := seen[chunk.DocumentID]; dup {
			continue
		}
		seen[chunk.DocumentID] = struct{}{}

		link := Link{
			DocumentID:   string(chunk.DocumentID),
			DocumentName: chunk.DocumentName,
			Ext:          FileExt(chunk.DocumentName),
		}
		link.URL = fmt.Sprintf("%s/document/%s?ext=%s&prefix=document", baseURL, link.DocumentID, link.Ext)
		links = append(links, link)
		fmt.Fprintf(&sb, "\n\n - [%s](%s)", link.DocumentName, link.URL)
	}
	return Fragment{Kind: KindReferences, Text: sb.String(), Links: links}
}

// FileExt returns the lowercased text after the last dot in name, or "" when
// name has no dot.
func FileExt(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}
