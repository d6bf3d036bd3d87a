package dlna

import (
	"github.com/anacrolix/dms/upnp"
)

const connectionManagerURN = "urn:schemas-upnp-org:service:ConnectionManager:1"

// defaultProtocolInfo lists every MIME type the Content Index can
// classify, the way the teacher's defaultProtocolInfo constant lists
// rclone's much larger supported-format set.
const defaultProtocolInfo = "http-get:*:video/mp4:*," +
	"http-get:*:video/x-matroska:*," +
	"http-get:*:video/x-msvideo:*," +
	"http-get:*:video/webm:*," +
	"http-get:*:video/mp2t:*," +
	"http-get:*:audio/mpeg:*," +
	"http-get:*:audio/flac:*," +
	"http-get:*:audio/wav:*," +
	"http-get:*:audio/mp4:*," +
	"http-get:*:audio/ogg:*," +
	"http-get:*:image/jpeg:*," +
	"http-get:*:image/png:*," +
	"http-get:*:image/gif:*"

// connectionManagerService is a stub sufficient to satisfy clients that
// probe transport capabilities before issuing Browse; this server never
// negotiates an actual AV transport connection.
type connectionManagerService struct{}

func (connectionManagerService) ServiceURN() string { return connectionManagerURN }

func (connectionManagerService) Handle(action string, args map[string]string) (map[string]string, error) {
	switch action {
	case "GetProtocolInfo":
		return map[string]string{
			"Source": defaultProtocolInfo,
			"Sink":   "",
		}, nil
	case "GetCurrentConnectionIDs":
		return map[string]string{"ConnectionIDs": "0"}, nil
	case "GetCurrentConnectionInfo":
		return map[string]string{
			"RcsID":                 "-1",
			"AVTransportID":         "-1",
			"ProtocolInfo":          "",
			"PeerConnectionManager": "",
			"PeerConnectionID":      "-1",
			"Direction":             "Output",
			"Status":                "OK",
		}, nil
	default:
		return nil, upnp.Errorf(upnp.InvalidActionErrorCode, "unsupported action %q", action)
	}
}
