package convert

import "bytes"

// FileType is the document family recognized by content sniffing.
type FileType int

const (
	Unknown FileType = iota
	Word
	PowerPoint
	Excel
	PDF
	RichText
	PlainText
	OpenDocument
)

func (t FileType) String() string {
	switch t {
	case Word:
		return "word"
	case PowerPoint:
		return "powerpoint"
	case Excel:
		return "excel"
	case PDF:
		return "pdf"
	case RichText:
		return "richtext"
	case PlainText:
		return "plaintext"
	case OpenDocument:
		return "opendocument"
	default:
		return "unknown"
	}
}

var (
	sigPDF      = []byte("%PDF-")
	sigRTF      = []byte(`{\rtf1`)
	sigZipLocal = []byte("PK\x03\x04")
	sigZipEmpty = []byte("PK\x05\x06")
	sigOLE2     = []byte("\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1")
)

// DetectFileType sniffs the document family from content. Only the leading
// kilobyte is inspected for container-internal markers.
func DetectFileType(content []byte) FileType {
	if len(content) == 0 {
		return Unknown
	}
	if bytes.HasPrefix(content, sigPDF) {
		return PDF
	}
	if bytes.HasPrefix(content, sigRTF) {
		return RichText
	}

	head := content
	if len(head) > 1024 {
		head = head[:1024]
	}

	if bytes.HasPrefix(content, sigZipLocal) || bytes.HasPrefix(content, sigZipEmpty) {
		return detectZipFormat(head)
	}
	if bytes.HasPrefix(content, sigOLE2) {
		return detectOLE2Format(head)
	}
	if looksLikeText(head) {
		return PlainText
	}
	return Unknown
}

// detectZipFormat classifies ZIP containers (OOXML and OpenDocument) by the
// entry names visible in the leading bytes.
func detectZipFormat(head []byte) FileType {
	switch {
	case bytes.Contains(head, []byte("word/")),
		bytes.Contains(head, []byte("application/vnd.openxmlformats-officedocument.wordprocessingml")):
		return Word
	case bytes.Contains(head, []byte("ppt/")),
		bytes.Contains(head, []byte("application/vnd.openxmlformats-officedocument.presentationml")):
		return PowerPoint
	case bytes.Contains(head, []byte("xl/")),
		bytes.Contains(head, []byte("application/vnd.openxmlformats-officedocument.spreadsheetml")):
		return Excel
	case bytes.Contains(head, []byte("application/vnd.oasis.opendocument")):
		return OpenDocument
	case bytes.Contains(head, []byte("[Content_Types].xml")):
		// OOXML without a type-specific entry up front. Word is the most
		// common, matching how producers order the archive.
		return Word
	default:
		return Unknown
	}
}

// detectOLE2Format classifies legacy compound documents by application
// signatures near the header. A full OLE2 directory parse is deliberately
// avoided; unknown compound documents default to Word.
func detectOLE2Format(head []byte) FileType {
	switch {
	case bytes.Contains(head, []byte("Microsoft Office Word")),
		bytes.Contains(head, []byte("Word.Document")):
		return Word
	case bytes.Contains(head, []byte("Microsoft Office PowerPoint")),
		bytes.Contains(head, []byte("PowerPoint Document")):
		return PowerPoint
	case bytes.Contains(head, []byte("Microsoft Excel")),
		bytes.Contains(head, []byte("Workbook")):
		return Excel
	default:
		return Word
	}
}

// looksLikeText reports whether the first 256 bytes are mostly printable.
func looksLikeText(head []byte) bool {
	if len(head) > 256 {
		head = head[:256]
	}
	if len(head) == 0 {
		return false
	}
	printable := 0
	for _, b := range head {
		if (b >= 0x21 && b <= 0x7e) || b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f' || b >= 0x80 {
			printable++
		}
	}
	return float64(printable)/float64(len(head)) > 0.9
}

// MatchesFormat reports whether a sniffed family is plausible for the claimed
// input format. Legacy and OOXML variants of the same application are not
// distinguished here; the engine rejects genuinely wrong containers itself.
func (t FileType) MatchesFormat(format string) bool {
	switch format {
	case "doc", "docx", "rtf", "odt", "txt":
		return t == Word || t == RichText || t == OpenDocument || t == PlainText
	case "ppt", "pptx", "odp":
		return t == PowerPoint || t == OpenDocument
	case "xls", "xlsx", "ods", "csv":
		return t == Excel || t == OpenDocument || t == PlainText
	case "pdf":
		return t == PDF
	default:
		return false
	}
}
