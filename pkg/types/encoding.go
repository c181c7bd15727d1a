package types

import "strings"

const (
	// PreviewMaxLen is the hard cap on stored content previews. Fixed for
	// compatibility with previews written by earlier releases.
	PreviewMaxLen = 500

	// binaryScanWindow is how much of the content the binary sniffer reads
	binaryScanWindow = 100
)

// DetectEncoding classifies content for storage. Data-URI payloads are
// base64, content with a NUL or non-printable byte in the first 100
// characters is binary, everything else is utf8. The classification rules
// are fixed for compatibility, not tunable.
func DetectEncoding(content string) Encoding {
	if strings.HasPrefix(content, "data:") && strings.Contains(content, ";base64,") {
		return EncodingBase64
	}

	window := content
	if len(window) > binaryScanWindow {
		window = window[:binaryScanWindow]
	}
	for i := 0; i < len(window); i++ {
		c := window[i]
		if c == 0x00 {
			return EncodingBinary
		}
		if c < 0x09 || (c > 0x0d && c < 0x20) {
			return EncodingBinary
		}
	}
	return EncodingUTF8
}

// Preview truncates content to the fixed preview cap
func Preview(content string) string {
	if len(content) <= PreviewMaxLen {
		return content
	}
	return content[:PreviewMaxLen]
}
