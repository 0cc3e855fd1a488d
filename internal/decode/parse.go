package decode

import (
	"encoding/xml"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Kind identifies the decoded shape of a message payload.
type Kind int

const (
	KindText Kind = iota
	KindImage
	KindVoice
	KindCard
	KindVideo
	KindSticker
	KindApp
	KindSystem
	KindUnknown
)

// Content is the decoded payload of a message. Parsing is a pure function
// of the type code and text, so the same input always yields the same
// structure.
type Content interface {
	Kind() Kind
	// Preview returns a short human-readable summary suitable for logging.
	Preview() string
}

// Text is a plain text message.
type Text string

func (t Text) Kind() Kind      { return KindText }
func (t Text) Preview() string { return string(t) }

// Image is a picture message. URL is the CDN location of the mid-resolution
// rendition when present, the high-resolution one otherwise.
type Image struct {
	URL string
}

func (Image) Kind() Kind      { return KindImage }
func (Image) Preview() string { return "[Image]" }

// Voice is an audio clip with its duration in milliseconds.
type Voice struct {
	DurationMs int64
}

func (Voice) Kind() Kind { return KindVoice }
func (v Voice) Preview() string {
	return fmt.Sprintf("[Voice %ds]", (v.DurationMs+999)/1000)
}

// Card is a shared contact card.
type Card struct {
	Nickname string
	Username string
}

func (Card) Kind() Kind { return KindCard }
func (c Card) Preview() string {
	name := c.Nickname
	if name == "" {
		name = c.Username
	}
	return strings.TrimSpace("[Name Card] " + name)
}

// Video is a video message carrying its thumbnail CDN location.
type Video struct {
	ThumbURL string
}

func (Video) Kind() Kind      { return KindVideo }
func (Video) Preview() string { return "[Video]" }

// Sticker is an emoji/sticker message.
type Sticker struct {
	URL string
}

func (Sticker) Kind() Kind      { return KindSticker }
func (Sticker) Preview() string { return "[Sticker]" }

// App sub-types observed in the wild.
const (
	AppTypeAudio        = 3
	AppTypeFile         = 6
	AppTypeForwarded    = 19
	AppTypeMiniProgram  = 33
	AppTypeMiniProgram2 = 36
	AppTypeCard         = 42
	AppTypeTransfer     = 2000
	AppTypeRedPacket    = 2001
)

// App is the composite "app message" envelope: links, files, transfers,
// mini-programs and friends. AppType is nil when the payload carried no
// sub-type element.
type App struct {
	AppType     *int64
	Title       string
	Description string
	URL         string
}

func (App) Kind() Kind { return KindApp }

func (a App) Preview() string {
	label := "[Link]"
	switch {
	case a.AppType == nil:
		if looksLikeFilename(a.Title) {
			label = "[File]"
		}
	default:
		switch *a.AppType {
		case AppTypeAudio:
			label = "[Audio]"
		case AppTypeFile:
			label = "[File]"
		case AppTypeForwarded:
			label = "[Forwarded]"
		case AppTypeMiniProgram, AppTypeMiniProgram2:
			label = "[Mini Program]"
		case AppTypeCard:
			label = "[Name Card]"
		case AppTypeTransfer:
			return "[Transfer]"
		case AppTypeRedPacket:
			return "[Red Packet]"
		}
	}
	return strings.TrimSpace(label + " " + a.Title)
}

// System is an in-conversation system notice (member joined, recall, ...).
type System string

func (System) Kind() Kind        { return KindSystem }
func (s System) Preview() string { return string(s) }

// Unknown preserves payloads whose type code has no decoder yet, for
// forward compatibility with schema drift.
type Unknown struct {
	TypeCode int64
	Raw      string
}

func (Unknown) Kind() Kind { return KindUnknown }
func (u Unknown) Preview() string {
	return fmt.Sprintf("[Unknown %d]", u.TypeCode)
}

// Parse decodes message text according to its numeric type code. Only the
// low 16 bits of the code carry the type; the high bits are flags.
func Parse(typeCode int64, text string) Content {
	switch typeCode & 0xFFFF {
	case 1:
		return Text(text)
	case 3:
		return Image{URL: firstAttr(text, "cdnmidimgurl", "cdnbigimgurl")}
	case 34:
		return Voice{DurationMs: parseVoiceDuration(text)}
	case 42:
		return Card{
			Nickname: firstAttr(text, "nickname"),
			Username: firstAttr(text, "username"),
		}
	case 43:
		return Video{ThumbURL: firstAttr(text, "cdnthumburl")}
	case 47:
		return Sticker{URL: firstAttr(text, "cdnurl")}
	case 49:
		return parseApp(text)
	case 10000, 10002:
		return System(text)
	default:
		return Unknown{TypeCode: typeCode, Raw: text}
	}
}

func parseVoiceDuration(text string) int64 {
	// Attribute name varies across store versions.
	raw := firstAttr(text, "voicelength", "voicelen", "length")
	if raw == "" {
		return 0
	}
	ms, err := strconv.ParseUint(raw, 10, 63)
	if err != nil {
		return 0
	}
	return int64(ms)
}

func parseApp(text string) App {
	app := App{
		Title:       elementText(text, "title"),
		Description: elementText(text, "des"),
		URL:         elementText(text, "url"),
	}
	if raw := elementText(text, "type"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			app.AppType = &n
		}
	}
	return app
}

// looksLikeFilename reports whether a title ends in a short file-extension
// suffix, used to tell files from links when the sub-type is absent.
func looksLikeFilename(title string) bool {
	ext := path.Ext(title)
	return len(ext) >= 2 && len(ext) <= 6 && !strings.ContainsAny(ext, " /")
}

// newTolerantDecoder builds an XML decoder that survives the malformed and
// truncated fragments the external application stores. Extraction failures
// yield empty values, never an error.
func newTolerantDecoder(text string) *xml.Decoder {
	dec := xml.NewDecoder(strings.NewReader(text))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	return dec
}

// firstAttr scans every element for the named attributes and returns the
// first candidate (in candidate order) that has a non-empty value anywhere
// in the document.
func firstAttr(text string, names ...string) string {
	found := make(map[string]string, len(names))
	dec := newTolerantDecoder(text)
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		for _, attr := range se.Attr {
			for _, name := range names {
				key := strings.ToLower(name)
				if _, dup := found[key]; dup {
					continue
				}
				if strings.EqualFold(attr.Name.Local, name) && attr.Value != "" {
					found[key] = attr.Value
				}
			}
		}
	}
	for _, name := range names {
		if v, ok := found[strings.ToLower(name)]; ok {
			return v
		}
	}
	return ""
}

// elementText returns the character data of the first element with the
// given local name, or "" when absent.
func elementText(text, name string) string {
	dec := newTolerantDecoder(text)
	depth := 0
	var buf strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth > 0 {
				depth++
			} else if strings.EqualFold(t.Name.Local, name) {
				depth = 1
			}
		case xml.CharData:
			if depth > 0 {
				buf.Write(t)
			}
		case xml.EndElement:
			if depth > 0 {
				depth--
				if depth == 0 {
					return strings.TrimSpace(buf.String())
				}
			}
		}
	}
	if depth > 0 {
		// Truncated payload: report what we saw inside the open element.
		return strings.TrimSpace(buf.String())
	}
	return ""
}
