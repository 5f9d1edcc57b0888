package upload

// Policy describes which single file a request may carry and where it is stored.
type Policy struct {
	// Name is used as metrics label and in log lines.
	Name  string
	Field string
	Dir   string
	// AllowedTypes maps lower-cased extensions (no dot) to the MIME type they must declare and sniff as.
	AllowedTypes map[string]string
}

var ProfilePicturePolicy = Policy{
	Name:  "profile_picture",
	Field: "profilePicture",
	Dir:   "users",
	AllowedTypes: map[string]string{
		"jpeg": "image/jpeg",
		"jpg":  "image/jpeg",
		"png":  "image/png",
		"gif":  "image/gif",
	},
}

var CoverImagePolicy = Policy{
	Name:  "cover_image",
	Field: "coverImage",
	Dir:   "blogs",
	AllowedTypes: map[string]string{
		"jpeg": "image/jpeg",
		"jpg":  "image/jpeg",
		"png":  "image/png",
	},
}

// expectedMIME returns the MIME type an upload with the given extension has to declare and sniff as.
func (p Policy) expectedMIME(ext string) (string, bool) {
	mimeType, ok := p.AllowedTypes[ext]
	return mimeType, ok
}
