package model

import "bytes"

// ImageKind tags the active image variant.
type ImageKind string

// Image variants.
const (
	ImageNone     ImageKind = "none"
	ImageExternal ImageKind = "external"
	ImageInline   ImageKind = "inline"
)

// Image is a tagged variant: no image, a reference into a blob store, or an
// inline encoded payload. Only the fields of the active variant are set.
type Image struct {
	Kind ImageKind `json:"kind"`

	// External.
	URL   string `json:"url,omitempty"`
	Owned bool   `json:"owned,omitempty"`

	// Inline.
	Data []byte `json:"data,omitempty"`
	MIME string `json:"mime,omitempty"`
}

// NoImage returns the empty variant.
func NoImage() Image {
	return Image{Kind: ImageNone}
}

// ExternalImage references an image in a blob store. Owned references were
// uploaded for a single item and are deleted together with it.
func ExternalImage(url string, owned bool) Image {
	return Image{Kind: ImageExternal, URL: url, Owned: owned}
}

// InlineImage embeds an encoded image in the record.
func InlineImage(data []byte, mime string) Image {
	return Image{Kind: ImageInline, Data: bytes.Clone(data), MIME: mime}
}

// IsNone reports whether no image is set. The zero Image counts as none.
func (img Image) IsNone() bool {
	return img.Kind == "" || img.Kind == ImageNone
}

// OwnedURL returns the URL of an owned external reference, or "" for any
// other variant.
func (img Image) OwnedURL() string {
	if img.Kind == ImageExternal && img.Owned {
		return img.URL
	}
	return ""
}

// Normalize fills the kind of a zero Image and drops fields that don't belong
// to the active variant.
func (img Image) Normalize() Image {
	switch img.Kind {
	case ImageExternal:
		if img.URL == "" {
			return NoImage()
		}
		return Image{Kind: ImageExternal, URL: img.URL, Owned: img.Owned}
	case ImageInline:
		if len(img.Data) == 0 {
			return NoImage()
		}
		return Image{Kind: ImageInline, Data: img.Data, MIME: img.MIME}
	default:
		return NoImage()
	}
}

// Clone returns a copy that shares no memory with img.
func (img Image) Clone() Image {
	if img.Data != nil {
		img.Data = bytes.Clone(img.Data)
	}
	return img
}

// Equal reports whether both images hold the same variant and content.
func (img Image) Equal(other Image) bool {
	a, b := img.Normalize(), other.Normalize()
	return a.Kind == b.Kind && a.URL == b.URL && a.Owned == b.Owned &&
		a.MIME == b.MIME && bytes.Equal(a.Data, b.Data)
}
