package upload

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
)

// Minimal payloads recognized by content sniffing, for tests.
var (
	TestPNGContent  = append([]byte("\x89PNG\x0D\x0A\x1A\x0A"), bytes.Repeat([]byte{0}, 64)...)
	TestJPEGContent = append([]byte("\xFF\xD8\xFF\xE0"), bytes.Repeat([]byte{0}, 64)...)
	TestGIFContent  = append([]byte("GIF89a"), bytes.Repeat([]byte{0}, 64)...)
)

type TestFile struct {
	Field       string
	Filename    string
	ContentType string
	Content     []byte
}

// NewTestMultipartBody builds a multipart/form-data body and returns it with its Content-Type header value.
func NewTestMultipartBody(fields map[string]string, files ...TestFile) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", name, err)
		}
	}

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.Field, f.Filename))
		h.Set("Content-Type", f.ContentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create part %s: %w", f.Field, err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, "", fmt.Errorf("write part %s: %w", f.Field, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}

	return body, mw.FormDataContentType(), nil
}
