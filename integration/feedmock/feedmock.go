// Package feedmock is a stand-in for the lightning feed provider.
package feedmock

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"

	"github.com/JiscSD/lightning-observation-map/internal/testutil"
)

type Provider struct {
	URL string
	Key string

	ln      net.Listener
	t       *testing.T
	archive []byte

	mu       sync.Mutex
	requests int
	failing  bool
	keys     []string

	stop chan chan struct{}
}

// New starts a provider serving a KMZ archive with the given placemarks.
func New(t *testing.T, placemarks ...testutil.Placemark) *Provider {
	p := &Provider{
		Key:  "CWA-INTEGRATION",
		t:    t,
		stop: make(chan chan struct{}),
		archive: testutil.KMZ(t, testutil.Entry{
			Name: "O-A0039-001.kml",
			Body: testutil.KML(placemarks...),
		}),
	}

	ln, err := net.Listen("tcp4", "localhost:")
	if err != nil {
		p.t.Fatal("Cannot create network listener:", err)
	}
	p.ln = ln
	p.URL = fmt.Sprintf("http://%s/fileapi/v1/opendataapi/O-A0039-001", ln.Addr().String())

	go p.createServer()
	go p.loop()

	return p
}

func (p *Provider) createServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/fileapi/v1/opendataapi/O-A0039-001", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.requests++
		p.keys = append(p.keys, r.URL.Query().Get("Authorization"))
		failing := p.failing
		p.mu.Unlock()

		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.google-earth.kmz")
		w.Write(p.archive)
	})
	err := http.Serve(p.ln, mux)
	if err != nil {
		p.t.Log("Provider server is now closed:", err)
	}
}

func (p *Provider) loop() {
	ch := <-p.stop
	p.ln.Close()
	close(ch)
}

// Fail makes every following request return HTTP 500.
func (p *Provider) Fail() {
	p.mu.Lock()
	p.failing = true
	p.mu.Unlock()
}

// Requests returns the number of downloads attempted so far.
func (p *Provider) Requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

func (p *Provider) AssertKeyUsed() {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		p.t.Fatal("Provider was not used")
	}
	for _, k := range p.keys {
		if k != p.Key {
			p.t.Fatalf("Unexpected credential: %q", k)
		}
	}
}

func (p *Provider) Stop() {
	ch := make(chan struct{})
	p.stop <- ch
	<-ch
}
