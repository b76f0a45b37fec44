// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// startup contact information is provided through DNS TXT records.
// The format:
//   txt-record=a.b.c,"sectionnet=v1 a=127.0.0.1;[::1] p=12016 k=<hex BLS pk>"
// the key is the genesis section key the contact vouches for

package knowledge

import (
	"encoding/hex"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/bitmark-inc/logger"

	"github.com/sectionnet/sectiond/fault"
	"github.com/sectionnet/sectiond/keyshare"
)

var supportedTags = map[string]struct{}{
	"sectionnet=v1": {},
}

const (
	sectionKeyLength   = 2 * keyshare.PublicKeySize // hex characters
	transportKeyLength = 2 * 32                     // hex characters

	// re-fetch period when the zone publishes no shorter TTL
	refetchInterval = 1 * time.Hour

	resolvConf = "/etc/resolv.conf"
)

// Contact - one bootstrap peer from DNS
type Contact struct {
	IPv4         net.IP
	IPv6         net.IP
	Port         uint16
	SectionKey   keyshare.PublicKey
	TransportKey []byte
}

// decode DNS TXT records of the form
//
//   <TAG> a=<IPv4;IPv6> p=<PORT> k=<BLS-PK> t=<CURVE-PK>
//
// t is optional; unknown single-letter items are ignored
func parseTxt(s string) (*Contact, error) {

	t := &Contact{}

	countA := 0
	countK := 0
	countP := 0

words:
	for i, w := range strings.Split(strings.TrimSpace(s), " ") {

		if 0 == i {
			if _, ok := supportedTags[w]; ok {
				continue words
			}
			return nil, fault.ErrInvalidDnsTxtRecord
		}

		// ignore empty
		if "" == w {
			continue words
		}

		// require form: <letter>=<word>
		if len(w) < 3 || '=' != w[1] {
			return nil, fault.ErrInvalidDnsTxtRecord
		}

		parameter := w[2:]
		err := error(nil)
		switch w[0] {
		case 'a':
		addresses:
			for _, address := range strings.Split(parameter, ";") {
				if '[' == address[0] {
					end := len(address) - 1
					if ']' == address[end] {
						address = address[1:end]
					}
				}
				IP := net.ParseIP(address)
				if nil == IP {
					err = fault.ErrInvalidIpAddress
					break addresses
				} else {
					err = nil
					if nil != IP.To4() {
						t.IPv4 = IP
					} else {
						t.IPv6 = IP
					}
				}
			}
			countA += 1

		case 'p':
			t.Port, err = getPort(parameter)
			countP += 1

		case 'k':
			if len(parameter) != sectionKeyLength {
				err = fault.ErrInvalidKeyLength
			} else {
				var b []byte
				b, err = hex.DecodeString(parameter)
				if nil == err {
					t.SectionKey, err = keyshare.PublicKeyFromBytes(b)
				}
			}
			countK += 1

		case 't':
			if len(parameter) != transportKeyLength {
				err = fault.ErrInvalidKeyLength
			} else {
				t.TransportKey, err = hex.DecodeString(parameter)
			}

		default:
			// ignore unknown items
		}
		if nil != err {
			return nil, err
		}
	}

	// ensure that there is only one each of the required items
	if 1 != countA || 1 != countK || 1 != countP {
		return nil, fault.ErrInvalidDnsTxtRecord
	}

	return t, nil
}

func getPort(s string) (uint16, error) {
	port, err := strconv.Atoi(s)
	if nil != err || port < 1 || port > 65535 {
		return 0, fault.ErrInvalidPortNumber
	}
	return uint16(port), nil
}

// Lookuper - resolve a domain to bootstrap contacts
type Lookuper interface {
	Lookup(domainName string) ([]Contact, error)
}

type lookuper struct {
	log *logger.L
	f   func(string) ([]string, error)
}

// NewLookuper - f is usually net.LookupTXT; injectable for tests
func NewLookuper(log *logger.L, f func(string) ([]string, error)) Lookuper {
	return &lookuper{
		log: log,
		f:   f,
	}
}

// Lookup - fetch and parse all TXT records of a domain
func (l *lookuper) Lookup(domainName string) ([]Contact, error) {
	log := l.log
	if "" == domainName {
		return nil, fault.ErrInvalidDnsTxtRecord
	}

	txts, err := l.f(domainName)
	if nil != err {
		log.Errorf("lookup TXT record error: %s", err)
		return nil, err
	}

	result := make([]Contact, 0, len(txts))
	for i, t := range txts {
		t = strings.TrimSpace(t)
		contact, err := parseTxt(t)
		if nil != err {
			log.Debugf("ignore TXT[%d]: %q  error: %s", i, t, err)
			continue
		}
		log.Infof("process TXT[%d]: %q", i, t)
		log.Infof("result[%d]: IPv4: %q  IPv6: %q  port: %d", i, contact.IPv4, contact.IPv6, contact.Port)
		if nil == contact.IPv4 && nil == contact.IPv6 {
			log.Debugf("result[%d]: ignoring invalid record", i)
			continue
		}
		result = append(result, *contact)
	}
	return result, nil
}

// Bootstrapper - background process re-fetching bootstrap contacts
type Bootstrapper struct {
	log        *logger.L
	domainName string
	lookuper   Lookuper
	deliver    func([]Contact)
}

// NewBootstrapper - deliver receives each successful contact batch
func NewBootstrapper(domainName string, lookuper Lookuper, deliver func([]Contact)) *Bootstrapper {
	return &Bootstrapper{
		log:        logger.New("bootstrap"),
		domainName: domainName,
		lookuper:   lookuper,
		deliver:    deliver,
	}
}

// Run - background processing interface
func (b *Bootstrapper) Run(_ interface{}, shutdown <-chan struct{}) {
	log := b.log
	log.Info("starting…")

	b.fetch()
	timer := time.After(interval(b.domainName, log))

loop:
	for {
		select {
		case <-timer:
			timer = time.After(interval(b.domainName, log))
			b.fetch()

		case <-shutdown:
			break loop
		}
	}
}

func (b *Bootstrapper) fetch() {
	contacts, err := b.lookuper.Lookup(b.domainName)
	if nil != err {
		b.log.Warnf("lookup %q error: %s", b.domainName, err)
		return
	}
	if 0 != len(contacts) {
		b.deliver(contacts)
	}
}

// get interval time for the bootstrap domain re-fetch, bounded above
// by refetchInterval and below by the zone's own TTL
func interval(domainName string, log *logger.L) time.Duration {
	t := refetchInterval
	var servers []string

	conf, err := dns.ClientConfigFromFile(resolvConf)
	if nil != err {
		log.Warnf("reading %s error: %s", resolvConf, err)
		goto done
	}

	if 0 == len(conf.Servers) {
		log.Warn("cannot get dns name server")
		goto done
	}

	servers = conf.Servers
	// limit the nameservers to lookup
	if len(servers) > 3 {
		servers = servers[:3]
	}

loop:
	for _, server := range servers {

		s := net.JoinHostPort(server, conf.Port)
		c := dns.Client{}
		msg := dns.Msg{}
		msg.SetQuestion(domainName+".", dns.TypeSOA)

		r, _, err := c.Exchange(&msg, s)
		if nil != err {
			log.Debugf("exchange with dns server %q error: %s", s, err)
			continue loop
		}

		if 0 == len(r.Ns) && 0 == len(r.Answer) && 0 == len(r.Extra) {
			log.Debugf("no resource record found by dns server %q", s)
			continue loop
		}

		sections := [][]dns.RR{r.Answer, r.Ns, r.Extra}
		for _, section := range sections {
			ttl := minTTL(section)
			if 0 < ttl {
				log.Infof("got TTL record from server %q value %d", s, ttl)
				ttlSec := time.Duration(ttl) * time.Second
				if refetchInterval > ttlSec {
					t = ttlSec
					break loop
				}
			}
		}
	}

done:
	log.Infof("time to re-fetch bootstrap domain: %v", t)
	return t
}

func minTTL(records []dns.RR) uint32 {
	ttl := uint32(0)
	for _, record := range records {
		h := record.Header()
		if nil == h {
			continue
		}
		if 0 == ttl || h.Ttl < ttl {
			ttl = h.Ttl
		}
	}
	return ttl
}
