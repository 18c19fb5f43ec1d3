package server

import (
  "encoding/json"
  "errors"
  "net/http"

  "github.com/MWANGAZA-LAB/SatsConnect/internal/channels"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/graph"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/payments"
  "github.com/MWANGAZA-LAB/SatsConnect/internal/rebalance"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
  w.Header().Set("Content-Type", "application/json")
  w.WriteHeader(status)
  if payload != nil {
    _ = json.NewEncoder(w).Encode(payload)
  }
}

func readJSON(r *http.Request, dst any) error {
  dec := json.NewDecoder(r.Body)
  dec.DisallowUnknownFields()
  return dec.Decode(dst)
}

func writeError(w http.ResponseWriter, status int, message string) {
  writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps the package sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
  writeError(w, errorStatus(err), err.Error())
}

func errorStatus(err error) int {
  switch {
  case errors.Is(err, channels.ErrNotFound),
    errors.Is(err, graph.ErrChannelNotFound),
    errors.Is(err, graph.ErrNoRoute),
    errors.Is(err, rebalance.ErrNotFound),
    errors.Is(err, payments.ErrNotFound),
    errors.Is(err, payments.ErrPeerNotFound):
    return http.StatusNotFound
  case errors.Is(err, channels.ErrInvalidCapacity),
    errors.Is(err, channels.ErrTooManyChannels),
    errors.Is(err, rebalance.ErrAmountOutOfRange),
    errors.Is(err, payments.ErrInvalidInvoice):
    return http.StatusBadRequest
  case errors.Is(err, rebalance.ErrNotPending),
    errors.Is(err, payments.ErrTerminal):
    return http.StatusConflict
  case errors.Is(err, payments.ErrNoPeerAvailable):
    return http.StatusServiceUnavailable
  default:
    return http.StatusInternalServerError
  }
}
