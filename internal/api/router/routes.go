package router

import (
	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/handlers/hsm/auditlog"
	"github.com/kashguard/go-hsm/internal/api/handlers/hsm/crypto"
	"github.com/kashguard/go-hsm/internal/api/handlers/hsm/keys"
	"github.com/kashguard/go-hsm/internal/api/handlers/hsm/sessions"
	"github.com/kashguard/go-hsm/internal/api/handlers/hsm/status"
	"github.com/labstack/echo/v4"
)

func attachAllRoutes(s *api.Server) {
	s.Router.Routes = []*echo.Route{
		sessions.PostAuthenticateRoute(s),
		sessions.DeleteSessionRoute(s),

		keys.PostCreateKeyRoute(s),
		keys.PostImportKeyRoute(s),
		keys.GetListKeysRoute(s),
		keys.GetKeyRoute(s),
		keys.DeleteKeyRoute(s),
		keys.PostGrantRoute(s),
		keys.DeleteGrantRoute(s),
		keys.PostExportKeyRoute(s),

		crypto.PostEncryptRoute(s),
		crypto.PostDecryptRoute(s),
		crypto.PostSignRoute(s),
		crypto.PostVerifyRoute(s),

		status.GetModuleStatusRoute(s),
		status.PostReinitializeRoute(s),

		auditlog.GetAuditLogsRoute(s),
	}
}
