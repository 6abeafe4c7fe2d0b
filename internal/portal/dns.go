package portal

import (
	"context"
	"net"

	"github.com/miekg/dns"
)

// redirector answers every A query with the access point's own address,
// which is what makes the portal captive.
type redirector struct {
	ip net.IP
}

// ServeDNS implements dns.Handler.
func (d *redirector) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(req)
	m.Authoritative = true

	for _, q := range req.Question {
		if q.Qtype != dns.TypeA && q.Qtype != dns.TypeANY {
			continue
		}
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    60,
			},
			A: d.ip.To4(),
		})
	}

	w.WriteMsg(m)
}

// serveDNS starts the wildcard UDP responder and returns a channel that
// receives its terminal error.
func (p *Portal) serveDNS(ctx context.Context) <-chan error {
	srv := &dns.Server{
		Addr:    p.dnsAddr,
		Net:     "udp",
		Handler: &redirector{ip: net.ParseIP(p.apAddr)},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	return errCh
}
