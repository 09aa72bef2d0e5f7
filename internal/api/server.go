package api

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-hsm/internal/config"
	"github.com/kashguard/go-hsm/internal/hsm"
	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/kashguard/go-hsm/internal/metrics"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Router 按权限域分组的路由
type Router struct {
	Routes     []*echo.Route
	Root       *echo.Group
	Management *echo.Group
	APIV1HSM   *echo.Group
}

// Server is a central struct keeping all the dependencies.
// It is initialized with wire, which handles making the new instances of the components
// in the right order. To add a new component, 3 steps are required:
// - declaring it in this struct
// - adding a provider function in providers.go
// - adding the provider's function name to the arguments of wire.Build() in wire.go
//
// Components labeled as `wire:"-"` will be skipped and have to be initialized after the InitNewServer* call.
// For more information about wire refer to https://pkg.go.dev/github.com/google/wire
type Server struct {
	// skip wire:
	// -> initialized with router.Init(s) function
	Echo   *echo.Echo `wire:"-"`
	Router *Router    `wire:"-"`

	Config  config.Server
	DB      *sql.DB
	Clock   time2.Clock
	Metrics *metrics.Service

	// HSM components
	Module        *hsm.Module
	MetadataStore storage.MetadataStore
}

// newServerWithComponents is used by wire to initialize the server components.
// Components not listed here won't be handled by wire and should be initialized separately.
// Components which shouldn't be handled must be labeled `wire:"-"` in Server struct.
func newServerWithComponents(
	cfg config.Server,
	db *sql.DB,
	clock time2.Clock,
	metricsService *metrics.Service,
	module *hsm.Module,
	metadataStore storage.MetadataStore,
) *Server {
	return &Server{
		Config:        cfg,
		DB:            db,
		Clock:         clock,
		Metrics:       metricsService,
		Module:        module,
		MetadataStore: metadataStore,
	}
}

// NewServer 只携带配置的空壳，组件由调用方逐个注入（测试用）
func NewServer(cfg config.Server) *Server {
	return &Server{
		Config: cfg,
	}
}

func (s *Server) Ready() bool {
	// memory 后端不需要数据库连接，允许 DB 为 nil
	// 创建一个临时 Server 副本用于初始化检查
	checkServer := *s
	if s.Config.HSM.StorageBackend != "postgresql" && s.DB == nil {
		checkServer.DB = &sql.DB{}
	}

	if err := util.IsStructInitialized(&checkServer); err != nil {
		log.Debug().Err(err).Msg("Server is not fully initialized")
		return false
	}

	return true
}

func (s *Server) Start() error {
	if s.Echo == nil || s.Router == nil {
		return errors.New("router is not initialized")
	}
	if !s.Ready() {
		return errors.New("server is not ready")
	}

	if err := s.Echo.Start(s.Config.Echo.ListenAddress); err != nil {
		return errors.Wrap(err, "failed to start echo server")
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) []error {
	log.Warn().Msg("Shutting down server")

	var errs []error

	// 先排空在途请求，再关闭模块与审计队列
	if s.Echo != nil {
		log.Debug().Msg("Shutting down echo server")

		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to shutdown echo server")
			errs = append(errs, err)
		}
	}

	if s.Module != nil {
		log.Debug().Msg("Closing module, draining audit queue")

		if err := s.Module.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close module")
			errs = append(errs, err)
		}
	}

	if s.DB != nil {
		log.Debug().Msg("Closing database connection")

		if err := s.DB.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			log.Error().Err(err).Msg("Failed to close database connection")
			errs = append(errs, err)
		}
	}

	return errs
}
