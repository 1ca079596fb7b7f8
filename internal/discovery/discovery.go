// Package discovery broadcasts the hub's presence on the local network via
// mDNS so that companion clients (e.g. a mobile app) can find it without
// being told an address, and tolerates the underlying mDNS library failing
// to bind a multicast socket (common in containers/CI) by logging and
// continuing rather than failing hub startup.
package discovery

import (
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/mdns"

	"github.com/nafistiham/jigai/internal/log"
)

const serviceType = "_jigai._tcp"

// GetLocalIP returns this machine's LAN address by dialing a UDP socket to
// a public address; no packet is ever actually sent, only the chosen local
// interface address is read. Falls back to 127.0.0.1 on any failure.
func GetLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer func() { _ = conn.Close() }()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

// Broadcaster announces the hub via mDNS under service type
// "_jigai._tcp.local." with instance name "JigAi on <hostname>" and TXT
// records "version=<v>", "hostname=<h>".
type Broadcaster struct {
	version string
	server  *mdns.Server
}

// NewBroadcaster creates a Broadcaster that will advertise the given
// version string once Start is called.
func NewBroadcaster(version string) *Broadcaster {
	return &Broadcaster{version: version}
}

// Start registers the mDNS service for port. It never returns an error to
// the caller: a failure to bind the multicast socket is logged and
// Start returns false, but hub startup continues unaffected.
func (b *Broadcaster) Start(port int) bool {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "jigai-host"
	}

	localIP := GetLocalIP()
	ip := net.ParseIP(localIP)
	var ips []net.IP
	if ip != nil {
		ips = []net.IP{ip}
	}

	service, err := mdns.NewMDNSService(
		fmt.Sprintf("JigAi on %s", hostname),
		serviceType,
		"",
		"",
		port,
		ips,
		[]string{"version=" + b.version, "hostname=" + hostname},
	)
	if err != nil {
		log.Warn(log.CatDiscovery, "failed to construct mDNS service", "error", err)
		return false
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		log.Warn(log.CatDiscovery, "failed to start mDNS server, auto-discovery disabled", "error", err)
		return false
	}

	b.server = server
	log.Info(log.CatDiscovery, "broadcasting via mDNS", "service", serviceType+".local.", "address", localIP, "port", port)
	return true
}

// Stop unregisters the mDNS service, if running. Safe to call even if
// Start never succeeded.
func (b *Broadcaster) Stop() {
	if b.server == nil {
		return
	}
	if err := b.server.Shutdown(); err != nil {
		log.Warn(log.CatDiscovery, "error shutting down mDNS server", "error", err)
	}
	b.server = nil
}
