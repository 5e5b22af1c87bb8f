package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"laundry-orchestrator/config"
	"laundry-orchestrator/internal/balancer"
	"laundry-orchestrator/internal/command"
	"laundry-orchestrator/internal/monitor"
	"laundry-orchestrator/internal/nettest"
	"laundry-orchestrator/internal/payment"
	"laundry-orchestrator/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	cfg        *config.Config
	store      store.Store
	monitor    *monitor.Service
	balancer   *balancer.Balancer
	tester     *nettest.Tester
	dispatcher *command.Dispatcher
	payments   *payment.Arbitrator
	webpush    *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(
	cfg *config.Config,
	s store.Store,
	mon *monitor.Service,
	bal *balancer.Balancer,
	tester *nettest.Tester,
	dispatcher *command.Dispatcher,
	payments *payment.Arbitrator,
	webpushOptions *webpush.Options,
) *Handler {
	return &Handler{
		cfg:        cfg,
		store:      s,
		monitor:    mon,
		balancer:   bal,
		tester:     tester,
		dispatcher: dispatcher,
		payments:   payments,
		webpush:    webpushOptions,
	}
}
