package dlna

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"

	alog "github.com/anacrolix/log"

	"github.com/anacrolix/dms/ssdp"
)

// deviceType and the two service types make up the advertisement set
// this device exposes, alongside upnp:rootdevice and the bare UDN which
// ssdp.Server advertises implicitly for every configured device.
const deviceType = "urn:schemas-upnp-org:device:MediaServer:1"

var advertisedServices = []string{
	contentDirectoryURN,
	connectionManagerURN,
}

// ssdpResponder fans an ssdp.Server out across every matching network
// interface, mirroring the teacher's startSSDP/ssdpInterface pair.
type ssdpResponder struct {
	cfg    Config
	logger alog.Logger

	mu      sync.Mutex
	servers []*ssdp.Server
}

func newSSDPResponder(cfg Config, logger alog.Logger) *ssdpResponder {
	return &ssdpResponder{cfg: cfg, logger: logger}
}

// start brings up one ssdp.Server per eligible interface. An interface is
// eligible if it is up, supports multicast, and (when cfg.Interfaces is
// non-empty) is named in it.
func (r *ssdpResponder) start() error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("enumerate interfaces: %w", err)
	}

	var lastErr error
	started := 0
	for _, intf := range ifaces {
		if !r.eligible(intf) {
			continue
		}
		if err := r.startOnInterface(intf); err != nil {
			r.logger.Levelf(alog.Warning, "ssdp on %s: %v", intf.Name, err)
			lastErr = err
			continue
		}
		started++
	}
	if started == 0 {
		if lastErr != nil {
			return fmt.Errorf("no interface could start SSDP: %w", lastErr)
		}
		return fmt.Errorf("no eligible network interface found for SSDP")
	}
	return nil
}

func (r *ssdpResponder) eligible(intf net.Interface) bool {
	if intf.Flags&net.FlagUp == 0 || intf.Flags&net.FlagMulticast == 0 {
		return false
	}
	if len(r.cfg.Interfaces) == 0 {
		return true
	}
	for _, name := range r.cfg.Interfaces {
		if name == intf.Name {
			return true
		}
	}
	return false
}

func (r *ssdpResponder) startOnInterface(intf net.Interface) error {
	base, err := url.Parse(r.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("parse base URL: %w", err)
	}
	port, err := strconv.Atoi(base.Port())
	if err != nil {
		return fmt.Errorf("parse base URL port: %w", err)
	}

	// advertiseLocation builds the LOCATION header from whatever IP
	// ssdp.Server is actually announcing on, so each interface advertises
	// its own reachable address rather than a single shared one.
	advertiseLocation := func(ip net.IP) string {
		loc := url.URL{
			Scheme: "http",
			Host:   (&net.TCPAddr{IP: ip, Port: port}).String(),
			Path:   rootDescPath,
		}
		return loc.String()
	}

	srv := &ssdp.Server{
		Interface:      intf,
		Devices:        []string{deviceType},
		Services:       advertisedServices,
		Location:       advertiseLocation,
		Server:         serverField,
		UUID:           uuidFromUDN(r.cfg.UDN),
		NotifyInterval: r.cfg.AnnounceInterval,
		Logger:         r.logger,
	}
	if err := srv.Init(); err != nil {
		return err
	}

	r.mu.Lock()
	r.servers = append(r.servers, srv)
	r.mu.Unlock()

	go func() {
		if err := srv.Serve(); err != nil {
			r.logger.Levelf(alog.Debug, "ssdp serve on %s ended: %v", intf.Name, err)
		}
	}()
	return nil
}

// stop sends ssdp:byebye and releases every running interface's socket.
func (r *ssdpResponder) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, srv := range r.servers {
		srv.Close()
	}
	r.servers = nil
}

// uuidFromUDN strips the "uuid:" scheme prefix ssdp.Server expects to add
// itself.
func uuidFromUDN(udn string) string {
	const prefix = "uuid:"
	if len(udn) > len(prefix) && udn[:len(prefix)] == prefix {
		return udn[len(prefix):]
	}
	return udn
}
