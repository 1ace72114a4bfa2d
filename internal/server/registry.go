package server

import (
	"net"
	"sort"
	"time"
)

// ClientRecord is the server-side view of one connected client.
// LastSeen is refreshed only on a valid keepalive; the payload is whatever
// JSON object the client announced at connect.
type ClientRecord struct {
	Endpoint string
	Addr     *net.UDPAddr
	LastSeen time.Time
	Payload  map[string]any
}

// clone returns a value copy safe to hand to the host application.
// The IP bytes are copied too; a plain struct copy would leave the
// slice aliasing the registry's record.
func (r *ClientRecord) clone() ClientRecord {
	payload := make(map[string]any, len(r.Payload))
	for k, v := range r.Payload {
		payload[k] = v
	}
	addr := &net.UDPAddr{
		IP:   append(net.IP(nil), r.Addr.IP...),
		Port: r.Addr.Port,
		Zone: r.Addr.Zone,
	}
	return ClientRecord{
		Endpoint: r.Endpoint,
		Addr:     addr,
		LastSeen: r.LastSeen,
		Payload:  payload,
	}
}

// registry is the table of live clients keyed by endpoint ("address:port").
// It holds at most one record per endpoint and is only ever touched from
// the server's event loop, so it needs no locking.
type registry struct {
	records map[string]*ClientRecord
}

func newRegistry() *registry {
	return &registry{records: make(map[string]*ClientRecord)}
}

func (r *registry) get(endpoint string) (*ClientRecord, bool) {
	rec, ok := r.records[endpoint]
	return rec, ok
}

// put inserts a record, displacing any record already at its endpoint.
func (r *registry) put(rec *ClientRecord) {
	r.records[rec.Endpoint] = rec
}

func (r *registry) remove(endpoint string) (*ClientRecord, bool) {
	rec, ok := r.records[endpoint]
	if ok {
		delete(r.records, endpoint)
	}
	return rec, ok
}

func (r *registry) len() int {
	return len(r.records)
}

// snapshot returns value copies of all records sorted by endpoint.
func (r *registry) snapshot() []ClientRecord {
	out := make([]ClientRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// expired returns the records whose age strictly exceeds timeout, sorted
// by endpoint. A record exactly at the boundary is not expired.
func (r *registry) expired(now time.Time, timeout time.Duration) []*ClientRecord {
	var out []*ClientRecord
	for _, rec := range r.records {
		if now.Sub(rec.LastSeen) > timeout {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}
