package convert

import "strings"

// outputPath derives the destination path from the source path using the
// pair-specific extension rule: legacy Office formats gain an "x" suffix,
// PDF targets swap the extension for ".pdf".
func outputPath(src, from, to string) string {
	switch {
	case from == "doc" && to == "docx",
		from == "ppt" && to == "pptx",
		from == "xls" && to == "xlsx":
		return src + "x"
	case to == "pdf":
		if i := strings.LastIndex(src, "."); i > strings.LastIndex(src, "/") {
			return src[:i] + ".pdf"
		}
		return src + ".pdf"
	default:
		return src + "." + to
	}
}
