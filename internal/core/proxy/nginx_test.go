package proxy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderLocations(t *testing.T) {
	out := RenderLocations([]Route{
		{Alias: "app7", Upstream: "10.0.0.5:20000"},
		{Alias: "api7", Upstream: "10.0.0.5:20001"},
	})

	assert.Contains(t, out, "location /app7 {\n    proxy_pass http://10.0.0.5:20000/app7;\n")
	assert.Contains(t, out, "location /api7 {\n    proxy_pass http://10.0.0.5:20001/api7;\n")
	assert.Contains(t, out, "proxy_set_header Upgrade $http_upgrade;")
	assert.Contains(t, out, "proxy_set_header X-Forwarded-Proto $scheme;")
	assert.Equal(t, 2, strings.Count(out, "location "))
}

func TestRenderLocations_Empty(t *testing.T) {
	assert.Equal(t, "", RenderLocations(nil))
}

func TestRenderServerBlock(t *testing.T) {
	tls := TLS{
		Certificate:    "/etc/letsencrypt/live/x/fullchain.pem",
		CertificateKey: "/etc/letsencrypt/live/x/privkey.pem",
		OptionsInclude: "/etc/letsencrypt/options-ssl-nginx.conf",
	}
	out := RenderServerBlock(Route{Alias: "api7", Upstream: "10.0.0.5:20001"}, "fireploy.online", tls)

	assert.True(t, strings.HasPrefix(out, "server {\n    listen 443 ssl;\n"))
	assert.Contains(t, out, "server_name api7.fireploy.online;")
	assert.Contains(t, out, "ssl_certificate /etc/letsencrypt/live/x/fullchain.pem;")
	assert.Contains(t, out, "ssl_certificate_key /etc/letsencrypt/live/x/privkey.pem;")
	assert.Contains(t, out, "include /etc/letsencrypt/options-ssl-nginx.conf;")
	assert.NotContains(t, out, "ssl_dhparam")
	assert.Contains(t, out, "proxy_pass http://10.0.0.5:20001;")
}
