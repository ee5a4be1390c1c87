package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/inn0kenty/mail2mongo/internal/admission"
)

// handleNginxAuth answers the nginx mail-proxy authentication handshake. The
// proxy sends the envelope recipient in Auth-SMTP-To and forwards the
// connection only on Auth-Status: OK. The response status is always 200; the
// verdict travels in the headers.
func (a *API) handleNginxAuth(w http.ResponseWriter, r *http.Request) {
	domain, ok := recipientDomain(r.Header.Get("Auth-SMTP-To"))
	if !ok || !a.Gate.Admit(domain) {
		w.Header().Set("Auth-Status", "FORBIDDEN")
		w.Header().Set("Auth-Wait", "0")
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Auth-Status", "OK")
	w.Header().Set("Auth-Server", a.authServer(r))
	w.Header().Set("Auth-Port", a.SMTPPort)
	w.WriteHeader(http.StatusOK)
}

// recipientDomain extracts the domain from an "<addr>" or bare envelope
// recipient header value.
func recipientDomain(rcpt string) (string, bool) {
	rcpt = strings.TrimSpace(rcpt)
	if open := strings.Index(rcpt, "<"); open >= 0 {
		end := strings.Index(rcpt[open:], ">")
		if end < 0 {
			return "", false
		}
		rcpt = rcpt[open+1 : open+end]
	}
	_, domain, err := admission.SplitAddress(rcpt)
	if err != nil {
		return "", false
	}
	return domain, true
}

func (a *API) authServer(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.Host); err == nil && host != "" {
		return host
	}
	if r.Host != "" {
		return r.Host
	}
	return a.Hostname
}
