package proxy

import (
	"fmt"
	"strings"
)

// =============================================================================
// Nginx Fragment Rendering
// =============================================================================

// TLS holds the certificate settings of subdomain server blocks.
type TLS struct {
	Certificate    string
	CertificateKey string
	OptionsInclude string // optional
	DHParam        string // optional
}

// RenderLocation renders one path-mode location block. The upstream receives
// the alias as path prefix: /app42 proxies to http://ip:port/app42.
func RenderLocation(r Route) string {
	var b strings.Builder
	fmt.Fprintf(&b, "location /%s {\n", r.Alias)
	fmt.Fprintf(&b, "    proxy_pass http://%s/%s;\n", r.Upstream, r.Alias)
	b.WriteString("    proxy_http_version 1.1;\n")
	b.WriteString("    proxy_set_header Upgrade $http_upgrade;\n")
	b.WriteString("    proxy_set_header Connection 'upgrade';\n")
	writeForwardHeaders(&b, "    ")
	b.WriteString("}\n")
	return b.String()
}

// RenderLocations renders the include file of a project in path mode.
func RenderLocations(routes []Route) string {
	blocks := make([]string, 0, len(routes))
	for _, r := range routes {
		blocks = append(blocks, RenderLocation(r))
	}
	return strings.Join(blocks, "\n")
}

// RenderServerBlock renders one subdomain-mode virtual host terminating TLS
// for {alias}.{domain}.
func RenderServerBlock(r Route, domain string, tls TLS) string {
	var b strings.Builder
	b.WriteString("server {\n")
	b.WriteString("    listen 443 ssl;\n")
	fmt.Fprintf(&b, "    server_name %s.%s;\n\n", r.Alias, domain)
	fmt.Fprintf(&b, "    ssl_certificate %s;\n", tls.Certificate)
	fmt.Fprintf(&b, "    ssl_certificate_key %s;\n", tls.CertificateKey)
	if tls.OptionsInclude != "" {
		fmt.Fprintf(&b, "    include %s;\n", tls.OptionsInclude)
	}
	if tls.DHParam != "" {
		fmt.Fprintf(&b, "    ssl_dhparam %s;\n", tls.DHParam)
	}
	b.WriteString("\n    location / {\n")
	fmt.Fprintf(&b, "        proxy_pass http://%s;\n", r.Upstream)
	b.WriteString("        proxy_http_version 1.1;\n")
	b.WriteString("        proxy_set_header Upgrade $http_upgrade;\n")
	b.WriteString("        proxy_set_header Connection 'upgrade';\n")
	writeForwardHeaders(&b, "        ")
	b.WriteString("    }\n")
	b.WriteString("}\n")
	return b.String()
}

func writeForwardHeaders(b *strings.Builder, indent string) {
	for _, h := range []string{
		"Host $host",
		"X-Real-IP $remote_addr",
		"X-Forwarded-For $proxy_add_x_forwarded_for",
		"X-Forwarded-Proto $scheme",
	} {
		fmt.Fprintf(b, "%sproxy_set_header %s;\n", indent, h)
	}
}
