package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"

	nativecommon "hedgeline/native/common"
	"hedgeline/native/governance"
	"hedgeline/native/oracle"
	"hedgeline/native/perpetual"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// invalid marks validation failures from modules whose errors are not
// exported sentinels. Already classified errors pass through.
func invalid(err error) error {
	if err == nil || statusFor(err) != http.StatusInternalServerError {
		return err
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, perpetual.ErrInvalidAmount),
		errors.Is(err, perpetual.ErrInvalidParams),
		errors.Is(err, perpetual.ErrZeroAddress):
		return http.StatusBadRequest
	case errors.Is(err, governance.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, perpetual.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, perpetual.ErrSlippageExceeded),
		errors.Is(err, perpetual.ErrLeverageExceeded),
		errors.Is(err, perpetual.ErrLockActive),
		errors.Is(err, perpetual.ErrHedgeLimit),
		errors.Is(err, perpetual.ErrPositionUnderwater):
		return http.StatusConflict
	case errors.Is(err, perpetual.ErrNotEligible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, nativecommon.ErrModulePaused),
		errors.Is(err, oracle.ErrNoObservation),
		errors.Is(err, oracle.ErrStale):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body required")
		}
		return badRequest("decode body: %v", err)
	}
	return nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, badRequest("%s required", field)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, badRequest("%s must be a non-negative integer", field)
	}
	return v, nil
}

// parseOptionalAmount treats a blank field as absent.
func parseOptionalAmount(field, raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(field, raw)
}

func parseAddress(field, raw string) (ethcommon.Address, error) {
	raw = strings.TrimSpace(raw)
	if !ethcommon.IsHexAddress(raw) {
		return ethcommon.Address{}, badRequest("%s must be a hex address", field)
	}
	return ethcommon.HexToAddress(raw), nil
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest("invalid perpetual id %q", raw)
	}
	return id, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
