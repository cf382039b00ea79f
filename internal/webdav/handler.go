package webdav

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/net/webdav"

	"github.com/wukibaka/cloudpaste/internal/config"
	"github.com/wukibaka/cloudpaste/internal/vfs"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// supportedMethods is what the surface declares via Allow and Public.
var supportedMethods = []string{
	"OPTIONS", "GET", "HEAD", "PUT", "DELETE",
	"PROPFIND", "PROPPATCH", "MKCOL", "COPY", "MOVE", "LOCK", "UNLOCK",
}

// Authenticator resolves the principal of a WebDAV request.
type Authenticator func(r *http.Request) (types.Principal, error)

// Handler serves the WebDAV surface with the protocol headers Windows and
// macOS clients expect.
type Handler struct {
	inner   *webdav.Handler
	auth    Authenticator
	cfg     config.WebDAVConfig
	cors    config.ServerConfig
	logger  *slog.Logger
	methods string
}

// NewHandler mounts the adapter at cfg.Prefix.
func NewHandler(fs *vfs.FileSystem, auth Authenticator, cfg config.WebDAVConfig, serverCfg config.ServerConfig) *Handler {
	adapter := NewAdapter(fs)
	return &Handler{
		inner: &webdav.Handler{
			Prefix:     cfg.Prefix,
			FileSystem: adapter,
			LockSystem: webdav.NewMemLS(),
		},
		auth:    auth,
		cfg:     cfg,
		cors:    serverCfg,
		logger:  slog.Default().With("component", "webdav"),
		methods: strings.Join(supportedMethods, ", "),
	}
}

// ServeHTTP authenticates, decorates the response with protocol headers and
// delegates protocol handling.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.writeProtocolHeaders(w)

	if r.Method == http.MethodOptions {
		w.Header().Set("Allow", h.methods)
		w.Header().Set("Public", h.methods)
		w.WriteHeader(http.StatusOK)
		return
	}

	principal, err := h.auth(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="cloudpaste"`)
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	r = r.WithContext(WithPrincipal(r.Context(), principal))
	h.inner.ServeHTTP(w, r)
}

func (h *Handler) writeProtocolHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("DAV", "1,2")
	headers.Set("MS-Author-Via", "DAV")
	headers.Set("Microsoft-Server-WebDAV-Extensions", "1")
	headers.Set("X-MSDAVEXT", "1")

	headers.Set("Access-Control-Allow-Origin", h.cors.CORSOrigin)
	headers.Set("Access-Control-Allow-Methods", h.methods)
	headers.Set("Access-Control-Allow-Headers", h.cors.CORSHeaders)
	headers.Set("Access-Control-Max-Age", "86400")

	// Platform-specific overrides replace or extend the defaults.
	for name, value := range h.cfg.HeaderOverrides {
		headers.Set(name, value)
	}
}
