package internalhttp

import (
	"net"
	"net/http"
	"net/netip"

	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/services/im/route"
	"go.uber.org/zap"
)

// privateOnly rejects callers outside loopback and private address ranges.
func privateOnly(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isPrivateRemote(r.RemoteAddr) {
			logger.Warn("rejected non-private caller", zap.String("remote", r.RemoteAddr), zap.String("path", r.URL.Path))
			writeJSON(w, http.StatusForbidden, route.ErrorBody{
				Code:    apperrors.CodeUnauthenticated,
				Message: "internal endpoint",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isPrivateRemote(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}
