// Package didl renders ContentObject records as DIDL-Lite XML fragments,
// the object model ContentDirectory's Browse action returns inside its
// SOAP envelope.
package didl

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/homelan/dlnaserve/internal/mediaindex"
)

// Resource is the <res> element pointing at a streamable URL.
type Resource struct {
	XMLName      xml.Name `xml:"res"`
	ProtocolInfo string   `xml:"protocolInfo,attr"`
	URL          string   `xml:",chardata"`
	Size         uint64   `xml:"size,attr"`
}

// Object holds the fields common to <container> and <item>.
type Object struct {
	ID         string `xml:"id,attr"`
	ParentID   string `xml:"parentID,attr"`
	Restricted int    `xml:"restricted,attr"`
	Class      string `xml:"upnp:class"`
	Title      string `xml:"dc:title"`
	Date       string `xml:"dc:date,omitempty"`
}

// Container is a browsable directory-shaped node.
type Container struct {
	Object
	XMLName    xml.Name `xml:"container"`
	ChildCount int      `xml:"childCount,attr"`
}

// Item is a single playable resource.
type Item struct {
	Object
	XMLName xml.Name `xml:"item"`
	Res     []Resource
}

const (
	classContainer  = "object.container"
	classVideoItem  = "object.item.videoItem"
	classAudioTrack = "object.item.audioItem.musicTrack"
	classPhoto      = "object.item.imageItem.photo"
)

// protocolInfo builds the exact DLNA.ORG_OP/CI/FLAGS literal spec'd for
// byte-range-capable, non-transcoded streaming. These values are known to
// satisfy Samsung and Sony clients; changing them is a compatibility risk.
func protocolInfo(mimeType string) string {
	return fmt.Sprintf(
		"http-get:*:%s:DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=01700000000000000000000000000000",
		mimeType,
	)
}

// Encoder renders ContentObjects into DIDL-Lite, resolving resource URLs
// against BaseURL (e.g. "http://192.168.1.5:8200/").
type Encoder struct {
	BaseURL string
}

// resourceURL builds the advisory-titled, ID-addressed media URL. The
// server resolves strictly on the numeric ID segment; the title segment
// exists only so players show a sensible filename.
func (e Encoder) resourceURL(obj mediaindex.ContentObject) string {
	base := strings.TrimRight(e.BaseURL, "/")
	return fmt.Sprintf("%s/media/%d/%s", base, obj.ID, url.PathEscape(obj.Title))
}

func upnpClassForItem(obj mediaindex.ContentObject) string {
	switch obj.UPnPClass {
	case "object.item.videoItem":
		return classVideoItem
	case "object.item.audioItem.musicTrack":
		return classAudioTrack
	case "object.item.imageItem.photo":
		return classPhoto
	default:
		return obj.UPnPClass
	}
}

func (e Encoder) itemXML(obj mediaindex.ContentObject) Item {
	idStr := strconv.FormatInt(int64(obj.ID), 10)
	parentStr := strconv.FormatInt(int64(obj.ParentID), 10)
	return Item{
		Object: Object{
			ID:         idStr,
			ParentID:   parentStr,
			Restricted: 1,
			Class:      upnpClassForItem(obj),
			Title:      obj.Title,
			Date:       obj.LastModified.Format("2006-01-02"),
		},
		Res: []Resource{{
			ProtocolInfo: protocolInfo(obj.MimeType),
			URL:          e.resourceURL(obj),
			Size:         uint64(obj.Size),
		}},
	}
}

func (e Encoder) containerXML(obj mediaindex.ContentObject) Container {
	idStr := strconv.FormatInt(int64(obj.ID), 10)
	parentStr := strconv.FormatInt(int64(obj.ParentID), 10)
	return Container{
		Object: Object{
			ID:         idStr,
			ParentID:   parentStr,
			Restricted: 1,
			Class:      classContainer,
			Title:      obj.Title,
			Date:       obj.LastModified.Format("2006-01-02"),
		},
		ChildCount: obj.ChildCount,
	}
}

// marshalNode renders a single container or item as a bare XML element,
// with no XML declaration, ready to be placed inside <DIDL-Lite>.
func (e Encoder) marshalNode(obj mediaindex.ContentObject) ([]byte, error) {
	if obj.Kind == mediaindex.KindContainer {
		return xml.Marshal(e.containerXML(obj))
	}
	return xml.Marshal(e.itemXML(obj))
}

// wrap places rendered element bytes inside the <DIDL-Lite> root element
// with the namespaces ContentDirectory clients expect.
func wrap(inner []byte) string {
	return `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" ` +
		`xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" ` +
		`xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" ` +
		`xmlns:dlna="urn:schemas-dlna-org:metadata-1-0/">` +
		string(inner) + `</DIDL-Lite>`
}

// EncodeMetadata renders the single-node DIDL-Lite document BrowseMetadata
// returns for obj. Root metadata (ParentID == mediaindex.NoParent) renders
// parentID="-1" via the normal integer formatting of NoParent.
func (e Encoder) EncodeMetadata(obj mediaindex.ContentObject) (string, error) {
	b, err := e.marshalNode(obj)
	if err != nil {
		return "", err
	}
	return wrap(b), nil
}

// EncodeChildren renders the multi-node DIDL-Lite document
// BrowseDirectChildren returns for a container's child window.
func (e Encoder) EncodeChildren(children []mediaindex.ContentObject) (string, error) {
	var buf strings.Builder
	for _, c := range children {
		b, err := e.marshalNode(c)
		if err != nil {
			return "", err
		}
		buf.Write(b)
	}
	return wrap([]byte(buf.String())), nil
}
