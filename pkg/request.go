package pkg

import (
	"mime"
	"net/http"
)

func requestMediaType(r *http.Request) string {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mediaType
}

func IsJSONRequest(r *http.Request) bool {
	return requestMediaType(r) == "application/json"
}

func IsMultipartRequest(r *http.Request) bool {
	return requestMediaType(r) == "multipart/form-data"
}
