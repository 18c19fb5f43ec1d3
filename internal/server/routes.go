package server

import (
  "net/http"

  "github.com/go-chi/chi/v5"
  "github.com/go-chi/chi/v5/middleware"
)

func (s *Server) routes() http.Handler {
  r := chi.NewRouter()
  r.Use(middleware.Recoverer)
  r.Use(s.requestLogger())

  r.Get("/api/health", s.handleHealth)
  r.Get("/api/node/status", s.handleNodeStatus)

  r.Route("/api/wallet", func(r chi.Router) {
    r.Get("/balance", s.handleWalletBalance)
    r.Get("/payments", s.handleWalletPayments)
    r.Post("/invoice", s.handleCreateInvoice)
    r.Post("/decode", s.handleDecodeInvoice)
  })

  r.Route("/api/channels", func(r chi.Router) {
    r.Post("/", s.handleChannelCreate)
    r.Get("/", s.handleChannelList)
    r.Get("/stats", s.handleChannelStats)
    r.Get("/{id}", s.handleChannelGet)
    r.Post("/{id}/state", s.handleChannelSetState)
    r.Post("/{id}/balance", s.handleChannelSetBalance)
    r.Post("/{id}/close", s.handleChannelClose)
    r.Delete("/{id}", s.handleChannelRemove)
  })

  r.Route("/api/network", func(r chi.Router) {
    r.Post("/nodes", s.handleNetworkUpsertNode)
    r.Get("/nodes", s.handleNetworkNodes)
    r.Get("/nodes/{id}", s.handleNetworkNodeGet)
    r.Get("/nodes/{id}/channels", s.handleNetworkNodeChannels)
    r.Post("/channels", s.handleNetworkUpsertChannel)
    r.Get("/channels", s.handleNetworkChannels)
    r.Post("/channels/{id}", s.handleNetworkUpdateChannel)
    r.Get("/route", s.handleNetworkRoute)
    r.Get("/stats", s.handleNetworkStats)
  })

  r.Route("/api/rebalance", func(r chi.Router) {
    r.Post("/scan", s.handleRebalanceScan)
    r.Get("/operations", s.handleRebalanceOperations)
    r.Post("/operations", s.handleRebalanceRequest)
    r.Get("/operations/{id}", s.handleRebalanceGet)
    r.Post("/operations/{id}/execute", s.handleRebalanceExecute)
    r.Post("/operations/{id}/cancel", s.handleRebalanceCancel)
    r.Get("/history", s.handleRebalanceHistory)
    r.Get("/stats", s.handleRebalanceStats)
  })

  r.Route("/api/payments", func(r chi.Router) {
    r.Post("/", s.handlePaymentSubmit)
    r.Get("/", s.handlePaymentList)
    r.Get("/metrics", s.handlePaymentMetrics)
    r.Get("/history", s.handlePaymentHistory)
    r.Get("/status/{hash}", s.handlePaymentStatusByHash)
    r.Get("/{id}", s.handlePaymentGet)
    r.Post("/{id}/cancel", s.handlePaymentCancel)
  })

  r.Route("/api/peers", func(r chi.Router) {
    r.Get("/", s.handlePeerList)
    r.Post("/", s.handlePeerAdd)
    r.Get("/best", s.handlePeerBest)
    r.Post("/{id}/primary", s.handlePeerSetPrimary)
    r.Post("/{id}/online", s.handlePeerSetOnline)
    r.Delete("/{id}", s.handlePeerRemove)
  })

  return r
}
