package storage

// Codec is the content transform applied between callers and the
// files_content table. The shipped implementation is a passthrough; a real
// compression codec can be substituted without touching any call site.
type Codec interface {
	// Encode transforms content for storage and reports whether the
	// result should be flagged as compressed.
	Encode(content string) (encoded string, compressed bool, err error)
	// Decode reverses Encode for rows flagged as compressed.
	Decode(stored string, compressed bool) (string, error)
}

// NoopCodec stores content verbatim
type NoopCodec struct{}

func (NoopCodec) Encode(content string) (string, bool, error) { return content, false, nil }

func (NoopCodec) Decode(stored string, compressed bool) (string, error) { return stored, nil }
