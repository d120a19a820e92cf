// Package oracle provides the HTTP transport shared by the model services
// (diarization, voice verification and face verification). Requests are
// multipart uploads of local media files; responses are JSON documents or
// NDJSON streams.
package oracle

// Part is one field of a multipart request. Exactly one of Value or
// FilePath is used: when FilePath is set the file's content is uploaded.
type Part struct {
	Name     string
	Value    string
	FilePath string
}

// Field returns a plain form field.
func Field(name, value string) Part {
	return Part{Name: name, Value: value}
}

// File returns a file field whose content is read from path at send time.
func File(name, path string) Part {
	return Part{Name: name, FilePath: path}
}

// IsFile reports whether the part uploads a file.
func (p Part) IsFile() bool {
	return p.FilePath != ""
}
