package dlna

import (
	"fmt"
	"strconv"

	"github.com/anacrolix/dms/upnp"

	"github.com/homelan/dlnaserve/internal/didl"
	"github.com/homelan/dlnaserve/internal/mediaindex"
)

const contentDirectoryURN = "urn:schemas-upnp-org:service:ContentDirectory:1"

// contentDirectoryService implements ContentDirectory:1's Browse family,
// backed by a Content Index and a DIDL-Lite encoder sharing this device's
// base URL.
type contentDirectoryService struct {
	index   *mediaindex.Index
	encoder *didl.Encoder
}

func (s *contentDirectoryService) ServiceURN() string { return contentDirectoryURN }

func (s *contentDirectoryService) Handle(action string, args map[string]string) (map[string]string, error) {
	switch action {
	case "Browse":
		return s.browse(args)
	case "GetSortCapabilities":
		return map[string]string{"SortCaps": "dc:title"}, nil
	case "GetSearchCapabilities":
		return map[string]string{"SearchCaps": ""}, nil
	case "GetSystemUpdateID":
		return map[string]string{"Id": strconv.FormatUint(uint64(s.index.UpdateID()), 10)}, nil
	default:
		return nil, upnp.Errorf(upnp.InvalidActionErrorCode, "unsupported action %q", action)
	}
}

// errInvalidArgs and errNoSuchObject render the exact UPnP error codes
// spec'd for Browse's two client-error cases.
func errInvalidArgs(format string, a ...interface{}) error {
	return upnp.Errorf(402, format, a...)
}

func errNoSuchObject(id string) error {
	return upnp.Errorf(701, "no such object: %s", id)
}

func (s *contentDirectoryService) browse(args map[string]string) (map[string]string, error) {
	idStr, ok := args["ObjectID"]
	if !ok {
		return nil, errInvalidArgs("missing ObjectID")
	}
	idNum, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, errInvalidArgs("ObjectID %q is not a decimal integer", idStr)
	}
	id := mediaindex.ObjectID(idNum)

	flag := args["BrowseFlag"]
	switch flag {
	case "BrowseMetadata":
		return s.browseMetadata(id)
	case "BrowseDirectChildren":
		return s.browseDirectChildren(id, args)
	default:
		return nil, errInvalidArgs("unsupported BrowseFlag %q", flag)
	}
}

func (s *contentDirectoryService) browseMetadata(id mediaindex.ObjectID) (map[string]string, error) {
	obj, err := s.index.Stat(id)
	if err != nil {
		return nil, errNoSuchObject(strconv.FormatInt(int64(id), 10))
	}
	result, err := s.encoder.EncodeMetadata(obj)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Result":         result,
		"NumberReturned": "1",
		"TotalMatches":   "1",
		"UpdateID":       strconv.FormatUint(uint64(s.index.UpdateID()), 10),
	}, nil
}

func (s *contentDirectoryService) browseDirectChildren(id mediaindex.ObjectID, args map[string]string) (map[string]string, error) {
	startingIndex, err := parseNonNegativeInt(args["StartingIndex"])
	if err != nil {
		return nil, errInvalidArgs("invalid StartingIndex: %v", err)
	}
	requestedCount, err := parseNonNegativeInt(args["RequestedCount"])
	if err != nil {
		return nil, errInvalidArgs("invalid RequestedCount: %v", err)
	}

	limit := requestedCount
	if requestedCount == 0 {
		limit = -1 // "all", per spec: RequestedCount=0 means no limit
	}

	children, total, err := s.index.List(id, startingIndex, limit)
	if err != nil {
		switch err {
		case mediaindex.ErrNotFound:
			return nil, errNoSuchObject(strconv.FormatInt(int64(id), 10))
		case mediaindex.ErrNotContainer:
			return nil, errInvalidArgs("object %d is not a container", id)
		default:
			return nil, err
		}
	}

	result, err := s.encoder.EncodeChildren(children)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Result":         result,
		"NumberReturned": strconv.Itoa(len(children)),
		"TotalMatches":   strconv.Itoa(total),
		"UpdateID":       strconv.FormatUint(uint64(s.index.UpdateID()), 10),
	}, nil
}

func parseNonNegativeInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%q is negative", s)
	}
	return n, nil
}
