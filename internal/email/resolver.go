package email

import (
	"fmt"
	"net"
	"strings"
	"time"
)

type servers struct {
	imap string
	smtp string
}

// Mail servers of popular providers
var knownServers = map[string]servers{
	"gmail.com":      {"imap.gmail.com:993", "smtp.gmail.com:587"},
	"googlemail.com": {"imap.gmail.com:993", "smtp.gmail.com:587"},
	"outlook.com":    {"outlook.office365.com:993", "smtp.office365.com:587"},
	"hotmail.com":    {"outlook.office365.com:993", "smtp.office365.com:587"},
	"live.com":       {"outlook.office365.com:993", "smtp.office365.com:587"},
	"yahoo.com":      {"imap.mail.yahoo.com:993", "smtp.mail.yahoo.com:465"},
	"icloud.com":     {"imap.mail.me.com:993", "smtp.mail.me.com:587"},
	"me.com":         {"imap.mail.me.com:993", "smtp.mail.me.com:587"},
	"aol.com":        {"imap.aol.com:993", "smtp.aol.com:465"},
	"zoho.com":       {"imap.zoho.com:993", "smtp.zoho.com:465"},
	"fastmail.com":   {"imap.fastmail.com:993", "smtp.fastmail.com:465"},
	"gmx.com":        {"imap.gmx.com:993", "mail.gmx.com:587"},
	"yandex.com":     {"imap.yandex.com:993", "smtp.yandex.com:465"},
	"proton.me":      {"127.0.0.1:1143", "127.0.0.1:1025"}, // Proton Mail Bridge
}

// probe reports whether host:port accepts TCP connections
var probe = func(address string) bool {
	conn, err := net.DialTimeout("tcp", address, 3*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// lookupMX is replaced in tests
var lookupMX = net.LookupMX

// ResolveIMAPServer determines the IMAP server for a mailbox address
func ResolveIMAPServer(email string) (string, error) {
	return resolve(email, "imap", "993", func(s servers) string { return s.imap })
}

// ResolveSMTPServer determines the submission server for a mailbox address
func ResolveSMTPServer(email string) (string, error) {
	return resolve(email, "smtp", "587", func(s servers) string { return s.smtp })
}

func resolve(email, prefix, port string, pick func(servers) string) (string, error) {
	domain := GetDomainFromEmail(email)
	if domain == "" {
		return "", fmt.Errorf("invalid email format: %q", email)
	}

	if s, ok := knownServers[domain]; ok {
		return pick(s), nil
	}

	for _, host := range []string{prefix + "." + domain, "mail." + domain, domain} {
		address := net.JoinHostPort(host, port)
		if probe(address) {
			return address, nil
		}
	}

	// mx.example.com -> imap.example.com
	if mx, err := lookupMX(domain); err == nil && len(mx) > 0 {
		mxHost := strings.TrimSuffix(mx[0].Host, ".")
		if parts := strings.SplitN(mxHost, ".", 2); len(parts) == 2 {
			for _, host := range []string{prefix + "." + parts[1], "mail." + parts[1]} {
				address := net.JoinHostPort(host, port)
				if probe(address) {
					return address, nil
				}
			}
		}
	}

	return net.JoinHostPort(prefix+"."+domain, port), nil
}

// GetDomainFromEmail extracts domain from email address
func GetDomainFromEmail(email string) string {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || parts[1] == "" {
		return ""
	}
	return strings.ToLower(parts[1])
}
