package dlna

import (
	"encoding/xml"
	"fmt"
	"net/http"

	"github.com/anacrolix/dms/soap"
	"github.com/anacrolix/dms/upnp"
	alog "github.com/anacrolix/log"
)

// UPnPService is implemented by each SOAP-controllable service this
// server exposes (ContentDirectory, ConnectionManager).
type UPnPService interface {
	// Handle executes action with the given decoded argument map and
	// returns the response argument map, or a upnp.Error-compatible
	// error for soapFault to convert into a SOAP fault.
	Handle(action string, args map[string]string) (map[string]string, error)

	// ServiceURN is the fully qualified service type, e.g.
	// "urn:schemas-upnp-org:service:ContentDirectory:1".
	ServiceURN() string
}

// envelope is the minimal SOAP 1.1 request shape this server needs to
// parse: an action element whose own tag name carries the action, and
// whose child elements are the argument list.
type envelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Action rawAction `xml:",any"`
	} `xml:"Body"`
}

type rawAction struct {
	XMLName xml.Name
	Args    []rawArg `xml:",any"`
}

type rawArg struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// decodeActionArgs parses a SOAP request body into its flat argument map.
// The action itself is not read from here: it is selected from the
// SOAPACTION header, per spec.
func decodeActionArgs(body []byte) (args map[string]string, err error) {
	var env envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	args = make(map[string]string, len(env.Body.Action.Args))
	for _, a := range env.Body.Action.Args {
		args[a.XMLName.Local] = a.Value
	}
	return args, nil
}

// marshalSOAPResponse renders a successful action response envelope body,
// in the same "<u:%sResponse ...>" shape the teacher's helper of the same
// name produces.
func marshalSOAPResponse(serviceURN, action string, args map[string]string) []byte {
	var inner []byte
	for k, v := range args {
		inner = append(inner, mustMarshalXML(k, v)...)
	}
	return []byte(fmt.Sprintf(`<u:%sResponse xmlns:u="%s">%s</u:%sResponse>`,
		action, serviceURN, inner, action))
}

func mustMarshalXML(tag, value string) []byte {
	b, err := xml.Marshal(struct {
		XMLName xml.Name
		Value   string `xml:",chardata"`
	}{XMLName: xml.Name{Local: tag}, Value: value})
	if err != nil {
		// Arguments are always plain strings; a marshal failure here
		// means the standard library itself is broken.
		panic(err)
	}
	return b
}

// soapFault renders err as a SOAP 1.1 fault body carrying a UPnP error
// code, the same construction the teacher's serviceControlHandler uses
// on any service error.
func soapFault(err error) []byte {
	upnpErr := upnp.ConvertError(err)
	fault := soap.NewFault("UPnPError", upnpErr)
	b, marshalErr := xml.Marshal(fault)
	if marshalErr != nil {
		panic(marshalErr)
	}
	return b
}

// writeSOAPEnvelope wraps a rendered action response/fault body in the
// outer SOAP envelope and writes it with the given HTTP status.
func writeSOAPEnvelope(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.WriteHeader(status)
	w.Write([]byte(xml.Header))
	w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body>`))
	w.Write(body)
	w.Write([]byte(`</s:Body></s:Envelope>`))
}

// logRequests wraps h with access logging in the style of the teacher's
// logging() middleware, recording method, path, and status at debug level.
func logRequests(logger alog.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(sw, r)
		logger.Levelf(alog.Debug, "%s %s -> %d", r.Method, r.URL.Path, sw.status)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
