package llm

import (
	"regexp"
	"strings"
)

var codeBlock = regexp.MustCompile(`(?s)<code>(.+?)</code>`)

var entityReplacer = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")

// ExtractCode returns the trimmed body of the first <code> block in a
// completion, with &lt; &gt; and &amp; unescaped. It returns "" when the
// completion has no code block.
func ExtractCode(completion string) string {
	m := codeBlock.FindStringSubmatch(completion)
	if m == nil {
		return ""
	}
	return entityReplacer.Replace(strings.TrimSpace(m[1]))
}
