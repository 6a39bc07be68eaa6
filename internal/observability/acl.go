// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package observability provê o log de eventos de upload e as rotas administrativas
// (health, eventos, métricas Prometheus) do nupload-server.
package observability

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var adminDenied = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nupload",
		Subsystem: "admin",
		Name:      "denied_total",
		Help:      "Admin requests rejected by admin.allow_origins, by route",
	},
	[]string{"route"},
)

// ACL restringe as rotas administrativas às origens de admin.allow_origins.
// Lista vazia nega tudo: o servidor de upload não expõe eventos nem métricas por padrão.
type ACL struct {
	prefixes []netip.Prefix
}

// NewACL cria a ACL a partir de config.AdminConfig.ParsedCIDRs.
func NewACL(cidrs []*net.IPNet) *ACL {
	acl := &ACL{}
	for _, c := range cidrs {
		addr, ok := netip.AddrFromSlice(c.IP)
		if !ok {
			continue
		}
		ones, _ := c.Mask.Size()
		addr = addr.Unmap()
		if addr.Is4() && ones > 32 {
			ones -= 96
		}
		acl.prefixes = append(acl.prefixes, netip.PrefixFrom(addr, ones).Masked())
	}
	return acl
}

// Guard protege a rota administrativa route. Origens fora da lista recebem 403 com o
// mesmo corpo de erro da API de upload.
func (a *ACL) Guard(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Allowed(r.RemoteAddr) {
			adminDenied.WithLabelValues(route).Inc()
			writeJSON(w, http.StatusForbidden, map[string]any{
				"success": false,
				"code":    "Forbidden",
				"message": fmt.Sprintf("origin %s is not allowed on %s", r.RemoteAddr, route),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allowed informa se o endereço remoto (host:port ou IP) está na lista.
// Endereços IPv4 mapeados em IPv6 (listener dual-stack) são comparados como IPv4.
func (a *ACL) Allowed(remoteAddr string) bool {
	var addr netip.Addr
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		addr = ap.Addr()
	} else if ip, err := netip.ParseAddr(remoteAddr); err == nil {
		addr = ip
	} else {
		return false
	}
	addr = addr.Unmap()

	for _, p := range a.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
