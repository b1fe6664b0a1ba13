package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hutchdns/hutch/pkg/engine"
	"github.com/hutchdns/hutch/pkg/name"
	"github.com/hutchdns/hutch/pkg/record"
)

// Container labels understood by discovery.
const (
	LabelService  = "dns.hutch.io/service"
	LabelPort     = "dns.hutch.io/port"
	LabelInstance = "dns.hutch.io/instance"
	LabelProtocol = "dns.hutch.io/protocol"
	LabelTags     = "dns.hutch.io/tags"
)

// DefaultTTL applies when the configuration does not set one.
const DefaultTTL uint32 = 60

// Host describes this host's identity inside the managed zone. IPv6Only
// switches the synthesized address records from A to AAAA.
type Host struct {
	Name     name.Name
	IPv4     string
	IPv6     string
	IPv6Only bool
	TTL      uint32
}

func (h Host) ttl() uint32 {
	if h.TTL == 0 {
		return DefaultTTL
	}
	return h.TTL
}

// addressValue returns the typed address payload containers and the
// host record share.
func (h Host) addressValue() (record.Value, error) {
	if h.IPv6Only {
		if net.ParseIP(h.IPv6) == nil || net.ParseIP(h.IPv6).To4() != nil {
			return nil, fmt.Errorf("host: invalid IPv6 address %q", h.IPv6)
		}
		return record.AAAA{Address: h.IPv6}, nil
	}
	ip := net.ParseIP(h.IPv4)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("host: invalid IPv4 address %q", h.IPv4)
	}
	return record.A{Address: h.IPv4}, nil
}

// Identity synthesizes the engine's host identity: the host's name plus
// its own address record, published at startup and withdrawn through
// the shared-record path at shutdown.
func (h Host) Identity() (engine.HostIdentity, error) {
	if h.Name.IsEmpty() {
		return engine.HostIdentity{}, fmt.Errorf("host: name is required")
	}
	if h.Name.IsAbsolute() {
		return engine.HostIdentity{}, fmt.Errorf("host: name %q must be relative to the zone", h.Name)
	}
	v, err := h.addressValue()
	if err != nil {
		return engine.HostIdentity{}, err
	}
	rec := record.Record{Name: h.Name, TTL: h.ttl(), Value: v}
	return engine.HostIdentity{Name: h.Name, Record: &rec}, nil
}

// Container is the concrete engine.ContainerView produced from one
// container's labels.
type Container struct {
	id      string
	name    string
	records []record.Record
}

func (c *Container) ID() string               { return c.id }
func (c *Container) Name() string             { return c.name }
func (c *Container) Records() []record.Record { return c.records }

// FromLabels builds a container view. A container without a service
// label is valid and produces no records. A service label with a
// missing or malformed port label is an error; the caller logs and
// skips the container rather than advertising it half-built.
func FromLabels(id, containerName string, labels map[string]string, host Host) (*Container, error) {
	c := &Container{id: id, name: containerName}

	service, ok := labels[LabelService]
	if !ok || service == "" {
		return c, nil
	}

	port, err := parsePort(labels[LabelPort])
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", containerName, err)
	}

	instance := labels[LabelInstance]
	if instance == "" {
		instance = containerName
	}

	addr, err := host.addressValue()
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", containerName, err)
	}

	instanceName, err := name.Parse(instance)
	if err != nil {
		return nil, fmt.Errorf("container %s: instance: %w", containerName, err)
	}
	serviceName, err := serviceName(service, labels[LabelProtocol])
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", containerName, err)
	}
	srvName, err := name.Concat(instanceName, serviceName)
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", containerName, err)
	}

	ttl := host.ttl()
	c.records = []record.Record{
		{Name: instanceName, TTL: ttl, Value: addr},
		{Name: srvName, TTL: ttl, Value: record.SRV{Port: port, Target: instanceName}},
		{Name: srvName, TTL: ttl, Value: record.TXT{Strings: txtStrings(labels[LabelTags])}},
		{Name: serviceName, TTL: ttl, Value: record.PTR{Target: srvName}},
	}
	return c, nil
}

// serviceName builds the relative "<service>.<proto>" name, normalizing
// the DNS-SD underscore prefixes.
func serviceName(service, protocol string) (name.Name, error) {
	if protocol == "" {
		protocol = "tcp"
	}
	switch strings.TrimPrefix(protocol, "_") {
	case "tcp", "udp":
		protocol = "_" + strings.TrimPrefix(protocol, "_")
	default:
		return name.Name{}, fmt.Errorf("invalid protocol label %q", protocol)
	}
	if !strings.HasPrefix(service, "_") {
		service = "_" + service
	}
	return name.Parse(service + "." + protocol)
}

func parsePort(raw string) (uint16, error) {
	if raw == "" {
		return 0, fmt.Errorf("service label present but %s is missing", LabelPort)
	}
	p, err := strconv.ParseUint(raw, 10, 16)
	if err != nil || p == 0 {
		return 0, fmt.Errorf("invalid port label %q", raw)
	}
	return uint16(p), nil
}

// txtStrings splits the tags label into TXT strings. DNS-SD requires at
// least one string, so no tags yields a single empty string.
func txtStrings(tags string) []string {
	if tags == "" {
		return []string{""}
	}
	return strings.Split(tags, ",")
}
