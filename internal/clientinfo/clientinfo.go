// Package clientinfo describes the client behind a request for the token
// issuance audit trail: address, GeoIP country and a compact browser label.
package clientinfo

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
	"github.com/oschwald/maxminddb-golang"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/httputil"
)

const maxUserAgentLen = 120

type Info struct {
	IP        string
	Country   string
	UserAgent string
}

type Resolver struct {
	db *maxminddb.Reader
}

type geoResult struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// New opens the GeoIP database at dbPath. A missing or unreadable database
// disables country lookup instead of failing startup.
func New(dbPath string) *Resolver {
	if dbPath == "" {
		return &Resolver{}
	}
	db, err := maxminddb.Open(dbPath)
	if err != nil {
		slog.Warn("clientinfo: failed to open geoip database, country lookup disabled", "path", dbPath, "error", err)
		return &Resolver{}
	}
	slog.Info("clientinfo: loaded geoip database", "path", dbPath)
	return &Resolver{db: db}
}

func (r *Resolver) Describe(req *http.Request) Info {
	ip := httputil.ClientIP(req)
	return Info{
		IP:        ip,
		Country:   r.country(ip),
		UserAgent: Summarize(req.UserAgent()),
	}
}

func (r *Resolver) country(ipStr string) string {
	if r == nil || r.db == nil || ipStr == "" {
		return ""
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}
	var result geoResult
	if err := r.db.Lookup(ip, &result); err != nil {
		return ""
	}
	return result.Country.ISOCode
}

// Summarize reduces a raw User-Agent header to "Browser Version (OS)", with a
// bot or mobile marker, so audit rows stay small and comparable.
func Summarize(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		name = "unknown"
	}
	label := name
	if version != "" {
		label += " " + version
	}
	if os := ua.OS(); os != "" {
		label += " (" + os + ")"
	}
	switch {
	case ua.Bot():
		label += " [bot]"
	case ua.Mobile():
		label += " [mobile]"
	}
	if len(label) > maxUserAgentLen {
		label = label[:maxUserAgentLen]
	}
	return label
}

func (r *Resolver) Close() error {
	if r != nil && r.db != nil {
		return r.db.Close()
	}
	return nil
}
