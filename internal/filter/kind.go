package filter

import "strings"

// ResourceKind is the engine's classification of a request.
type ResourceKind string

// Resource kinds the filter distinguishes. Anything else maps to KindOther.
const (
	KindDocument   ResourceKind = "document"
	KindScript     ResourceKind = "script"
	KindStylesheet ResourceKind = "stylesheet"
	KindXHR        ResourceKind = "xhr"
	KindFetch      ResourceKind = "fetch"
	KindImage      ResourceKind = "image"
	KindMedia      ResourceKind = "media"
	KindFont       ResourceKind = "font"
	KindWebSocket  ResourceKind = "websocket"
	KindManifest   ResourceKind = "manifest"
	KindOther      ResourceKind = "other"
)

// kindAliases maps lower-cased engine names to kinds.
var kindAliases = map[string]ResourceKind{
	"document":   KindDocument,
	"script":     KindScript,
	"stylesheet": KindStylesheet,
	"style":      KindStylesheet,
	"css":        KindStylesheet,
	"xhr":        KindXHR,
	"fetch":      KindFetch,
	"image":      KindImage,
	"img":        KindImage,
	"media":      KindMedia,
	"font":       KindFont,
	"websocket":  KindWebSocket,
	"manifest":   KindManifest,
}

// ParseResourceKind maps an engine resource-type name (case-insensitive) to a
// ResourceKind. Unknown names map to KindOther.
func ParseResourceKind(s string) ResourceKind {
	if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k
	}
	return KindOther
}

// String returns the kind name.
func (k ResourceKind) String() string {
	if k == "" {
		return string(KindOther)
	}
	return string(k)
}
