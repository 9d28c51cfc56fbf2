// Package api реализует HTTP-админку кассы на gin: решения по заказам, приём заказов,
// балансы, правила и акторы. Решения уходят в тот же approval.Service,
// что и у бота.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/features/actors"
	"serotonyl.ru/cashier/internal/features/approval"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/orders"
	"serotonyl.ru/cashier/internal/features/rules"
	"serotonyl.ru/cashier/internal/store"
)

// Approvals: решения, приём заказов и чтение заказов (реализует *approval.Service).
type Approvals interface {
	DecideWithRetry(ctx context.Context, req approval.Request) (approval.Result, error)
	Submit(ctx context.Context, n approval.NewOrder) (*orders.Order, error)
	SubmitProof(ctx context.Context, orderID, proofURL, proofHash string) (*orders.Order, error)
	Cancel(ctx context.Context, orderID, actorID, reason string) (*orders.Order, error)
	OpenAccount(ctx context.Context, userID string) (*ledger.Account, error)
	SetFlags(ctx context.Context, accountID string, flags ledger.Flags) (*ledger.Account, error)
	Order(ctx context.Context, orderID string) (*orders.Order, error)
	Orders(ctx context.Context, f store.OrderFilter) ([]*orders.Order, error)
	History(ctx context.Context, orderID string) ([]orders.ApprovalAction, error)
}

// Balances: чтение балансов (реализует *ledger.Service).
type Balances interface {
	View(ctx context.Context, accountID, gameID string) (ledger.View, error)
	Preview(ctx context.Context, accountID, gameID string) (ledger.Cashout, error)
	Entries(ctx context.Context, accountID string) ([]ledger.Entry, error)
}

// Rules: чтение и запись правил (реализует *rules.Service).
type Rules interface {
	Resolve(ctx context.Context, userID, gameID string) (rules.Effective, error)
	PutRule(ctx context.Context, scope rules.Scope, scopeID string, f rules.Fields) error
	DeleteRule(ctx context.Context, scope rules.Scope, scopeID string) error
	PutGame(ctx context.Context, g rules.Game) error
}

// Actors: реестр акторов (реализует *actors.Service).
type Actors interface {
	Get(ctx context.Context, actorID string) (*actors.Actor, error)
	List(ctx context.Context) ([]*actors.Actor, error)
	Put(ctx context.Context, a *actors.Actor) error
}

// KeyVerifier проверяет ключ админки (реализует *actors.KeyVerifier).
type KeyVerifier interface {
	Verify(remote, key string) error
}

// Pinger: проверка хранилища для /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps: всё, что нужно серверу. Сервисы создаются один раз в app.
type Deps struct {
	Approvals Approvals
	Balances  Balances
	Rules     Rules
	Actors    Actors
	Keys      KeyVerifier
	Health    Pinger
	Gatherer  prometheus.Gatherer
}

// Server: HTTP-сервер админки.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	deps   Deps
}

// NewServer собирает роутер. addr, HTTP_ADDR.
func NewServer(addr string, deps Deps) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestLogger())

	s := &Server{engine: engine, deps: deps}
	s.routes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler: роутер целиком (для тестов).
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", s.healthz)
	if s.deps.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	admin := s.engine.Group("/api/v1", AdminAuth(s.deps.Keys))

	o := admin.Group("/orders")
	o.POST("", s.submitOrder)
	o.GET("", s.listOrders)
	o.GET("/:id", s.getOrder)
	o.POST("/:id/proof", s.submitProof)
	o.POST("/:id/decision", RequireActor(), s.decide)
	o.POST("/:id/cancel", RequireActor(), s.cancelOrder)

	a := admin.Group("/accounts")
	a.POST("", s.openAccount)
	a.GET("/:id/balance", s.balance)
	a.GET("/:id/cashout-preview", s.cashoutPreview)
	a.GET("/:id/entries", s.entries)
	a.PUT("/:id/flags", s.setFlags)

	r := admin.Group("/rules")
	r.GET("/effective", s.effectiveRule)
	r.PUT("/:scope/:scope_id", s.putRule)
	r.DELETE("/:scope/:scope_id", s.deleteRule)

	admin.PUT("/games/:id", s.putGame)

	ac := admin.Group("/actors")
	ac.GET("", s.listActors)
	ac.GET("/:id", s.getActor)
	ac.PUT("/:id", s.putActor)
}

// Start слушает addr и блокируется до Shutdown.
func (s *Server) Start() error {
	log.WithField("addr", s.srv.Addr).Info("HTTP-админка запущена")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown дожидается текущих запросов.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("HTTP-админка останавливается...")
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
