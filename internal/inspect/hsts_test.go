package inspect

import (
	"net/http"
	"testing"
)

func httpsEndpoint(header string) *Endpoint {
	ep := NewEndpoint(ProtocolHTTPS, HostRoot, "example.gov")
	ep.Live = true
	ep.Headers = http.Header{"Server": []string{"nginx"}}
	if header != "" {
		ep.Headers.Set("Strict-Transport-Security", header)
	}
	return ep
}

func TestHSTSCheck(t *testing.T) {
	tests := []struct {
		name          string
		header        string
		wantHSTS      bool
		wantMaxAge    int
		wantNilMaxAge bool
		wantSub       bool
		wantPreload   bool
	}{
		{
			name:        "full policy",
			header:      "max-age=31536000; includeSubDomains; preload",
			wantHSTS:    true,
			wantMaxAge:  31536000,
			wantSub:     true,
			wantPreload: true,
		},
		{
			name:       "zero max-age disables",
			header:     "max-age=0",
			wantHSTS:   false,
			wantMaxAge: 0,
		},
		{
			name:       "short max-age still counts",
			header:     "max-age=100",
			wantHSTS:   true,
			wantMaxAge: 100,
		},
		{
			name:          "missing header",
			header:        "",
			wantHSTS:      false,
			wantNilMaxAge: true,
		},
		{
			name:       "quoted max-age",
			header:     `max-age="31536000"`,
			wantHSTS:   true,
			wantMaxAge: 31536000,
		},
		{
			name:       "duplicate headers comma-joined",
			header:     "max-age=100, max-age=31536000; includeSubDomains",
			wantHSTS:   true,
			wantMaxAge: 100,
			wantSub:    true,
		},
		{
			name:       "max-age after other directives",
			header:     "includeSubDomains; max-age=15768000",
			wantHSTS:   true,
			wantMaxAge: 15768000,
			wantSub:    true,
		},
		{
			name:          "unparseable max-age disables",
			header:        "max-age=forever",
			wantHSTS:      false,
			wantNilMaxAge: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := httpsEndpoint(tt.header)
			hstsCheck(ep)

			if ep.HSTS == nil {
				t.Fatal("expected HSTS to be determined")
			}
			if *ep.HSTS != tt.wantHSTS {
				t.Errorf("hsts = %v, want %v", *ep.HSTS, tt.wantHSTS)
			}
			if tt.wantNilMaxAge {
				if ep.HSTSMaxAge != nil {
					t.Errorf("max-age = %d, want unset", *ep.HSTSMaxAge)
				}
			} else if ep.HSTSMaxAge == nil || *ep.HSTSMaxAge != tt.wantMaxAge {
				t.Errorf("max-age = %v, want %d", ep.HSTSMaxAge, tt.wantMaxAge)
			}
			if ep.HSTSAllSubdomains != tt.wantSub {
				t.Errorf("includeSubDomains = %v, want %v", ep.HSTSAllSubdomains, tt.wantSub)
			}
			if ep.HSTSPreload != tt.wantPreload {
				t.Errorf("preload = %v, want %v", ep.HSTSPreload, tt.wantPreload)
			}
		})
	}
}

func TestHSTSCheckBadHostname(t *testing.T) {
	ep := httpsEndpoint("max-age=31536000")
	ep.HTTPSBadHostname = ptrBool(true)
	hstsCheck(ep)

	if ep.HSTS == nil || *ep.HSTS {
		t.Errorf("hsts = %v, want false for bad hostname", ep.HSTS)
	}
	if ep.HSTSHeader == "" {
		t.Error("header should still be recorded")
	}
}

func TestHSTSCheckDeadEndpoint(t *testing.T) {
	ep := httpsEndpoint("max-age=31536000")
	ep.Live = false
	hstsCheck(ep)

	if ep.HSTS != nil {
		t.Errorf("hsts = %v, want undetermined for dead endpoint", *ep.HSTS)
	}
}

func TestHSTSCheckHeaderFromRedirectDestination(t *testing.T) {
	ep := NewEndpoint(ProtocolHTTPS, HostRoot, "example.gov")
	ep.Live = true
	ep.Headers = http.Header{"Server": []string{"nginx"}}
	ep.ultimateHops = []Hop{
		{
			URL:     "https://example.gov/home",
			Status:  200,
			Headers: http.Header{"Strict-Transport-Security": []string{"max-age=31536000"}},
		},
	}
	hstsCheck(ep)

	if ep.HSTS == nil || !*ep.HSTS {
		t.Fatalf("hsts = %v, want true from eventual destination header", ep.HSTS)
	}
	if ep.HSTSMaxAge == nil || *ep.HSTSMaxAge != 31536000 {
		t.Errorf("max-age = %v, want 31536000", ep.HSTSMaxAge)
	}
}

func TestHSTSCheckIgnoresForeignDestination(t *testing.T) {
	ep := NewEndpoint(ProtocolHTTPS, HostRoot, "example.gov")
	ep.Live = true
	ep.Headers = http.Header{"Server": []string{"nginx"}}
	ep.ultimateHops = []Hop{
		{
			URL:     "https://other.gov/",
			Status:  200,
			Headers: http.Header{"Strict-Transport-Security": []string{"max-age=31536000"}},
		},
	}
	hstsCheck(ep)

	if ep.HSTS == nil || *ep.HSTS {
		t.Errorf("hsts = %v, want false when only a foreign destination has the header", ep.HSTS)
	}
}
