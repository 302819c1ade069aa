// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package discovery finds tachometers on the local network via mDNS.
//
// Tachometers advertise the service type "_tachometer._tcp". Each
// advertisement carries TXT records:
//   - D: device identifier (e.g. TACH-001)
//   - MD: model name
//   - F: comma separated feature flags (e.g. "rpm,power")
//
// Discovery is best-effort. A failed scan is logged and reported to the
// optional error hook; the static device list keeps working without it.
//
// # Thread Safety
//
// The scanner's device map is protected by a read-write lock, so Devices and
// Lookup may be called while a scan is running.
//
// # Example Usage
//
//	scanner := discovery.NewScanner(discovery.DefaultServiceType, discovery.DefaultDomain)
//	devices, err := scanner.Discover(ctx, 5*time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range devices {
//	    fmt.Println(d.ID(), d.Model())
//	}
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/soothill/tachometer-monitor/pkg/logger"
	"github.com/soothill/tachometer-monitor/pkg/metrics"
)

const (
	// DefaultServiceType is the mDNS service advertised by tachometers.
	DefaultServiceType = "_tachometer._tcp"

	// DefaultDomain is the mDNS browse domain.
	DefaultDomain = "local."
)

// Device is a discovered tachometer.
type Device struct {
	Name      string
	Address   net.IP
	Port      int
	TXTRecord map[string]string
	Hostname  string
	LastSeen  time.Time
}

// ID returns the advertised identifier, falling back to address:port.
func (d *Device) ID() string {
	if d.TXTRecord != nil {
		if id, ok := d.TXTRecord["D"]; ok && id != "" {
			return id
		}
	}
	return net.JoinHostPort(d.Address.String(), fmt.Sprint(d.Port))
}

// Model returns the advertised model name, if any.
func (d *Device) Model() string {
	return d.TXTRecord["MD"]
}

// HasFeature reports whether the F record lists feature.
func (d *Device) HasFeature(feature string) bool {
	flags, ok := d.TXTRecord["F"]
	if !ok {
		return false
	}
	for _, f := range strings.Split(flags, ",") {
		if strings.EqualFold(strings.TrimSpace(f), feature) {
			return true
		}
	}
	return false
}

// HasPowerControl reports whether the device accepts power commands.
func (d *Device) HasPowerControl() bool {
	return d.HasFeature("power")
}

// browseFunc matches zeroconf.Resolver.Browse.
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Scanner discovers tachometers via mDNS.
type Scanner struct {
	serviceType string
	domain      string
	browse      browseFunc

	mu      sync.RWMutex
	devices map[string]*Device
}

// NewScanner creates a scanner for serviceType in domain.
func NewScanner(serviceType, domain string) *Scanner {
	if serviceType == "" {
		serviceType = DefaultServiceType
	}
	if domain == "" {
		domain = DefaultDomain
	}
	return &Scanner{
		serviceType: serviceType,
		domain:      domain,
		browse:      zeroconfBrowse,
		devices:     make(map[string]*Device),
	}
}

func zeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// Discover browses for timeout and returns the devices seen in this scan.
// The entries channel is closed by the browser when the scan context ends.
func (s *Scanner) Discover(ctx context.Context, timeout time.Duration) ([]*Device, error) {
	// Buffered so the resolver does not block on slow parsing
	entries := make(chan *zeroconf.ServiceEntry, 10)
	discovered := make([]*Device, 0)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			device := parseServiceEntry(entry)
			if device == nil {
				continue
			}

			id := device.ID()
			s.mu.Lock()
			s.devices[id] = device
			s.mu.Unlock()

			discovered = append(discovered, device)

			logger.Info().
				Str("device_id", id).
				Str("device_name", device.Name).
				Str("model", device.Model()).
				Str("address", device.Address.String()).
				Int("port", device.Port).
				Msg("Discovered tachometer")
		}
	}()

	discoverCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.browse(discoverCtx, s.serviceType, s.domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse: %w", err)
	}

	<-discoverCtx.Done()
	wg.Wait()

	metrics.DevicesDiscovered.Set(float64(s.count()))
	return discovered, nil
}

// Run scans every interval until ctx is done. onError, if set, is called
// with each scan failure.
func (s *Scanner) Run(ctx context.Context, interval, timeout time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Discover(ctx, timeout); err != nil {
			logger.Warn().Err(err).Str("service", s.serviceType).Msg("Device discovery failed")
			if onError != nil {
				onError(err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// parseServiceEntry converts a zeroconf entry to a Device.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Device {
	if entry == nil {
		return nil
	}
	if len(entry.AddrIPv4) == 0 && len(entry.AddrIPv6) == 0 {
		return nil
	}

	// Prefer IPv4
	var addr net.IP
	if len(entry.AddrIPv4) > 0 {
		addr = entry.AddrIPv4[0]
	} else {
		addr = entry.AddrIPv6[0]
	}

	txtRecord := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			txtRecord[parts[0]] = parts[1]
		}
	}

	return &Device{
		Name:      entry.Instance,
		Address:   addr,
		Port:      entry.Port,
		TXTRecord: txtRecord,
		Hostname:  entry.HostName,
		LastSeen:  time.Now(),
	}
}

// Devices returns every device seen so far, ordered by ID.
func (s *Scanner) Devices() []*Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]*Device, 0, len(s.devices))
	for _, device := range s.devices {
		devices = append(devices, device)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ID() < devices[j].ID()
	})
	return devices
}

// DeviceIDs returns the IDs of every device seen so far, sorted.
func (s *Scanner) DeviceIDs() []string {
	devices := s.Devices()
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.ID()
	}
	return ids
}

// Lookup returns a device by ID, or nil.
func (s *Scanner) Lookup(id string) *Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[id]
}

func (s *Scanner) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}
