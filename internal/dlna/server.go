// Package dlna assembles the Content Index, the DIDL-Lite encoder, and
// the SSDP responder behind a single HTTP server, implementing the
// device description, SOAP control, and ranged media-streaming surface
// a DLNA MediaServer exposes.
package dlna

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anacrolix/dms/upnp"
	alog "github.com/anacrolix/log"

	"github.com/homelan/dlnaserve/internal/didl"
	"github.com/homelan/dlnaserve/internal/mediaindex"
)

const (
	serverField  = "dlnaserve/1.0 UPnP/1.0 DLNA/1.50"
	rootDescPath = "/description.xml"
	cdsSCPDPath  = "/ContentDirectory.xml"
	cmsSCPDPath  = "/ConnectionManager.xml"
	cdsCtrlPath  = "/ContentDirectory/control"
	cmsCtrlPath  = "/ConnectionManager/control"
	mediaPrefix  = "/media/"
	browsePath   = "/browse"
)

// Identity holds the process-lifetime-immutable device identity fields,
// threaded into both the HTTP server and the SSDP responder at
// construction, per the shared-configuration design note.
type Identity struct {
	UDN          string
	FriendlyName string
	Manufacturer string
	ModelName    string
	ModelNumber  string
	BaseURL      string // e.g. "http://192.168.1.5:8200/"
}

// Config is the server's full startup configuration.
type Config struct {
	Identity
	Directory        string
	Interfaces       []string
	AnnounceInterval time.Duration
	Logger           alog.Logger
}

// Server owns the Content Index, the HTTP listener, and the SSDP
// responders for every advertised interface.
type Server struct {
	cfg     Config
	index   *mediaindex.Index
	encoder *didl.Encoder
	cds     *contentDirectoryService
	cms     connectionManagerService
	logger  alog.Logger

	listener net.Listener
	httpSrv  *http.Server

	ssdp *ssdpResponder

	waitChan chan struct{}
}

// New constructs a Server bound to cfg.Directory and ready to Serve. It
// does not open any sockets.
func New(cfg Config) (*Server, error) {
	info, err := os.Stat(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("served directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("served path %q is not a directory", cfg.Directory)
	}

	idx := mediaindex.New(cfg.Directory)
	enc := &didl.Encoder{BaseURL: cfg.BaseURL}

	s := &Server{
		cfg:      cfg,
		index:    idx,
		encoder:  enc,
		cds:      &contentDirectoryService{index: idx, encoder: enc},
		cms:      connectionManagerService{},
		logger:   cfg.Logger,
		waitChan: make(chan struct{}),
	}
	s.ssdp = newSSDPResponder(s.cfg, s.logger)
	return s, nil
}

// Serve starts listening on addr (host:port) and returns once the
// listener is open; it does not block on connection handling. Callers
// should call Wait to block until Shutdown completes.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(rootDescPath, s.handleRootDesc)
	mux.HandleFunc(cdsSCPDPath, s.handleSCPD("cds_scpd.xml.tmpl"))
	mux.HandleFunc(cmsSCPDPath, s.handleSCPD("cms_scpd.xml.tmpl"))
	mux.HandleFunc(cdsCtrlPath, s.handleControl(s.cds))
	mux.HandleFunc(cmsCtrlPath, s.handleControl(s.cms))
	mux.HandleFunc(mediaPrefix, s.handleMedia)
	mux.HandleFunc(browsePath, s.handleBrowse)

	s.httpSrv = &http.Server{Handler: logRequests(s.logger, mux)}

	go func() {
		err := s.httpSrv.Serve(s.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Levelf(alog.Error, "http serve: %v", err)
		}
	}()

	if err := s.ssdp.start(); err != nil {
		s.logger.Levelf(alog.Warning, "ssdp: %v", err)
	}
	return nil
}

// Wait blocks until Shutdown has completed.
func (s *Server) Wait() {
	<-s.waitChan
}

// Shutdown stops accepting new connections, allows in-flight streams up
// to a grace period to finish, sends ssdp:byebye, then releases all
// resources. It is safe to call at most once.
func (s *Server) Shutdown(ctx context.Context) error {
	defer close(s.waitChan)

	grace, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var httpErr error
	if s.httpSrv != nil {
		httpErr = s.httpSrv.Shutdown(grace)
	}
	s.ssdp.stop()
	return httpErr
}

// Addr returns the address the HTTP listener is bound to, valid after
// a successful Serve call.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) handleRootDesc(w http.ResponseWriter, r *http.Request) {
	data := deviceDescriptionData{
		FriendlyName:     s.cfg.FriendlyName,
		Manufacturer:     s.cfg.Manufacturer,
		ManufacturerURL:  "https://github.com/",
		ModelDescription: "Zero-configuration DLNA media server",
		ModelName:        s.cfg.ModelName,
		ModelNumber:      s.cfg.ModelNumber,
		UDN:              s.cfg.UDN,
	}
	body, err := renderTemplate("description.xml.tmpl", data)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		s.logger.Levelf(alog.Error, "render description: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write(body)
}

func (s *Server) handleSCPD(templateName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := renderTemplate(templateName, nil)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			s.logger.Levelf(alog.Error, "render %s: %v", templateName, err)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Write(body)
	}
}

// handleControl dispatches SOAP control requests to svc, the way the
// teacher's serviceControlHandler parses SOAPACTION and marshals either
// a success response or a fault.
func (s *Server) handleControl(svc UPnPService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		soapAction, err := upnp.ParseActionHTTPHeader(r.Header.Get("SOAPACTION"))
		if err != nil {
			writeSOAPEnvelope(w, http.StatusInternalServerError, soapFault(
				fmt.Errorf("malformed SOAPACTION header: %w", err)))
			return
		}
		action := soapAction.Action

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		args, err := decodeActionArgs(body)
		if err != nil {
			writeSOAPEnvelope(w, http.StatusInternalServerError, soapFault(
				fmt.Errorf("malformed SOAP request: %w", err)))
			return
		}

		resp, err := svc.Handle(action, args)
		if err != nil {
			s.logger.Levelf(alog.Info, "soap action %s failed: %v", action, err)
			writeSOAPEnvelope(w, http.StatusInternalServerError, soapFault(err))
			return
		}
		writeSOAPEnvelope(w, http.StatusOK, marshalSOAPResponse(svc.ServiceURN(), action, resp))
	}
}

// handleMedia streams the file addressed by the numeric ID segment of
// /media/<id>/<title>, honoring Range requests via http.ServeContent.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, mediaPrefix)
	idSeg := rest
	if i := strings.Index(rest, "/"); i >= 0 {
		idSeg = rest[:i]
	}
	idNum, err := strconv.ParseInt(idSeg, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	id := mediaindex.ObjectID(idNum)

	obj, err := s.index.Stat(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if obj.Kind != mediaindex.KindItem {
		http.NotFound(w, r)
		return
	}

	realPath, info, err := s.index.SafeOpenPath(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(realPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", obj.MimeType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Server", serverField)
	w.Header().Set("transferMode.dlna.org", transferMode(r.Header.Get("transferMode.dlna.org")))
	w.Header().Set("contentFeatures.dlna.org",
		"DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=01700000000000000000000000000000")

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// transferMode validates the client-requested transferMode.dlna.org
// value, defaulting to Streaming per spec.
func transferMode(requested string) string {
	switch requested {
	case "Interactive", "Background":
		return requested
	default:
		return "Streaming"
	}
}

// handleBrowse renders the optional human-readable debug listing.
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	idStr := r.URL.Query().Get("id")
	id := mediaindex.RootID
	if idStr != "" {
		n, err := strconv.ParseInt(idStr, 10, 64)
		if err == nil {
			id = mediaindex.ObjectID(n)
		}
	}
	obj, err := s.index.Stat(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	children, _, err := s.index.List(id, 0, -1)
	if err != nil {
		http.Error(w, "cannot browse object", http.StatusBadRequest)
		return
	}
	rows := make([]browseRow, 0, len(children))
	for _, c := range children {
		rows = append(rows, browseRow{
			ID:           int64(c.ID),
			Title:        c.Title,
			EscapedTitle: url.PathEscape(c.Title),
			IsContainer:  c.Kind == mediaindex.KindContainer,
			Size:         c.Size,
		})
	}
	data := browsePageData{
		Title:      obj.Title,
		ShowParent: obj.ParentID != mediaindex.NoParent,
		ParentID:   int64(obj.ParentID),
		Children:   rows,
	}
	body, err := renderTemplate("browse.html.tmpl", data)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(body)
}

