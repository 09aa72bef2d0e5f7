package status

import (
	"net/http"

	"github.com/go-openapi/strfmt"
	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
)

func GetModuleStatusRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.GET("/status", getModuleStatusHandler(s))
}

// getModuleStatusHandler 模块状态不需要会话，供监控探活使用
func getModuleStatusHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		st := s.Module.GetModuleStatus()

		response := &types.GetModuleStatusResponse{
			Name:           &st.Name,
			SecurityLevel:  &st.SecurityLevel,
			SlotsUsed:      int64(st.SlotsUsed),
			SlotsTotal:     int64(st.SlotsTotal),
			ActiveSessions: int64(st.ActiveSessions),
			KeyCount:       int64(st.KeyCount),
			Healthy:        st.Healthy,
			SelfTestPassed: st.SelfTestPassed,
			Tampered:       st.Tampered,
			AuthMethods:    st.AuthMethods,
		}

		if !st.LastSelfTest.IsZero() {
			response.LastSelfTest = strfmt.DateTime(st.LastSelfTest)
		}

		return util.ValidateAndReturn(c, http.StatusOK, response)
	}
}
