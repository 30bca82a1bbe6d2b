package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"recvault/native/fund"
	"recvault/native/registry"
)

type instrumentPayload struct {
	ID              uint64 `json:"id"`
	Originator      string `json:"originator"`
	DebtorRef       string `json:"debtor_ref"`
	FaceValue       string `json:"face_value"`
	DiscountedValue string `json:"discounted_value"`
	DiscountRateBp  uint32 `json:"discount_rate_bp"`
	Maturity        int64  `json:"maturity"`
	EvidenceHash    string `json:"evidence_hash"`
	AmountPaid      string `json:"amount_paid"`
	Status          string `json:"status"`
	VerifyFailed    bool   `json:"verification_failed"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

func instrumentToPayload(inst *registry.Instrument) instrumentPayload {
	return instrumentPayload{
		ID:              inst.ID,
		Originator:      inst.Originator,
		DebtorRef:       inst.DebtorRef,
		FaceValue:       inst.FaceValue.String(),
		DiscountedValue: inst.DiscountedValue.String(),
		DiscountRateBp:  inst.DiscountRateBp,
		Maturity:        inst.Maturity,
		EvidenceHash:    hex.EncodeToString(inst.EvidenceHash[:]),
		AmountPaid:      inst.AmountPaid.String(),
		Status:          inst.Status.String(),
		VerifyFailed:    inst.VerificationFailed,
		CreatedAt:       inst.CreatedAt,
		UpdatedAt:       inst.UpdatedAt,
	}
}

type fundPayload struct {
	ID                 string `json:"id"`
	TotalAssets        string `json:"total_assets"`
	TotalUnits         string `json:"total_units"`
	HoldingsValue      string `json:"holdings_value"`
	TargetYieldBp      uint32 `json:"target_yield_bp"`
	MinDeposit         string `json:"min_deposit"`
	DepositCap         string `json:"deposit_cap,omitempty"`
	DepositsEnabled    bool   `json:"deposits_enabled"`
	WithdrawalsEnabled bool   `json:"withdrawals_enabled"`
	CumulativeYield    string `json:"cumulative_yield"`
	CumulativeLoss     string `json:"cumulative_loss"`
	CreatedAt          int64  `json:"created_at"`
}

func fundToPayload(f *fund.Fund) fundPayload {
	payload := fundPayload{
		ID:                 f.ID,
		TotalAssets:        f.TotalAssets.String(),
		TotalUnits:         f.TotalUnits.String(),
		HoldingsValue:      f.HoldingsValue.String(),
		TargetYieldBp:      f.TargetYieldBp,
		MinDeposit:         f.MinDeposit.String(),
		DepositsEnabled:    f.DepositsEnabled,
		WithdrawalsEnabled: f.WithdrawalsEnabled,
		CumulativeYield:    f.CumulativeYield.String(),
		CumulativeLoss:     f.CumulativeLoss.String(),
		CreatedAt:          f.CreatedAt,
	}
	if f.DepositCap != nil {
		payload.DepositCap = f.DepositCap.String()
	}
	return payload
}

type allocationPayload struct {
	InstrumentID  uint64 `json:"instrument_id"`
	FaceValue     string `json:"face_value"`
	AddedAt       int64  `json:"added_at"`
	Active        bool   `json:"active"`
	RemovedAt     int64  `json:"removed_at,omitempty"`
	RemovedReason string `json:"removed_reason,omitempty"`
}

func allocationToPayload(a *fund.Allocation) allocationPayload {
	return allocationPayload{
		InstrumentID:  a.InstrumentID,
		FaceValue:     a.FaceValue.String(),
		AddedAt:       a.AddedAt,
		Active:        a.Active,
		RemovedAt:     a.RemovedAt,
		RemovedReason: a.RemovedReason,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, fmt.Errorf("%w: decode request: %s", registry.ErrValidation, err))
		return false
	}
	return true
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: amount required", registry.ErrValidation)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid amount %q", registry.ErrValidation, raw)
	}
	return value, nil
}

func parseID(r *http.Request, param string) (uint64, error) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id %q", registry.ErrValidation, raw)
	}
	return id, nil
}

func parseEvidenceHash(raw string) ([32]byte, error) {
	var hash [32]byte
	decoded, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil || len(decoded) != len(hash) {
		return hash, fmt.Errorf("%w: evidence hash must be 32 hex-encoded bytes", registry.ErrValidation)
	}
	copy(hash[:], decoded)
	return hash, nil
}

type submitRequest struct {
	Originator     string `json:"originator"`
	DebtorRef      string `json:"debtor_ref"`
	FaceValue      string `json:"face_value"`
	DiscountRateBp uint32 `json:"discount_rate_bp"`
	Maturity       int64  `json:"maturity"`
	EvidenceHash   string `json:"evidence_hash"`
}

func (s *Server) handleSubmitInstrument(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	face, err := parseAmount(req.FaceValue)
	if err != nil {
		writeError(w, err)
		return
	}
	hash, err := parseEvidenceHash(req.EvidenceHash)
	if err != nil {
		writeError(w, err)
		return
	}
	inst, err := s.registry.Submit(req.Originator, face, req.Maturity, req.DebtorRef, hash, req.DiscountRateBp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, instrumentToPayload(inst))
}

func (s *Server) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	inst, err := s.registry.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instrumentToPayload(inst))
}

func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	var (
		instruments []*registry.Instrument
		err         error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, parseErr := registry.ParseStatus(raw)
		if parseErr != nil {
			writeError(w, fmt.Errorf("%w: %s", registry.ErrValidation, parseErr))
			return
		}
		instruments, err = s.registry.ListByStatus(status)
	} else {
		instruments, err = s.registry.List()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]instrumentPayload, 0, len(instruments))
	for _, inst := range instruments {
		out = append(out, instrumentToPayload(inst))
	}
	writeJSON(w, http.StatusOK, out)
}

type verificationRequest struct {
	Valid bool `json:"valid"`
}

func (s *Server) handleRecordVerification(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req verificationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	inst, err := s.registry.RecordVerification(id, req.Valid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instrumentToPayload(inst))
}

type paymentRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req paymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	inst, err := s.registry.RecordPayment(id, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instrumentToPayload(inst))
}

func (s *Server) handleMarkDefaulted(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	inst, err := s.registry.MarkDefaulted(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instrumentToPayload(inst))
}

type totalsPayload struct {
	Submitted    uint64 `json:"submitted"`
	Funded       uint64 `json:"funded"`
	Defaulted    uint64 `json:"defaulted"`
	FundedValue  string `json:"funded_value"`
	PaidValue    string `json:"paid_value"`
	RealizedLoss string `json:"realized_loss"`
}

func (s *Server) handleRegistryTotals(w http.ResponseWriter, _ *http.Request) {
	totals, err := s.registry.Totals()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totalsPayload{
		Submitted:    totals.Submitted,
		Funded:       totals.Funded,
		Defaulted:    totals.Defaulted,
		FundedValue:  totals.FundedValue.String(),
		PaidValue:    totals.PaidValue.String(),
		RealizedLoss: totals.RealizedLoss.String(),
	})
}

type createFundRequest struct {
	ID            string `json:"id"`
	TargetYieldBp uint32 `json:"target_yield_bp"`
	MinDeposit    string `json:"min_deposit"`
	DepositCap    string `json:"deposit_cap"`
}

func (s *Server) handleCreateFund(w http.ResponseWriter, r *http.Request) {
	var req createFundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cfg := fund.Config{ID: req.ID, TargetYieldBp: req.TargetYieldBp}
	if strings.TrimSpace(req.MinDeposit) != "" {
		min, err := parseAmount(req.MinDeposit)
		if err != nil {
			writeError(w, err)
			return
		}
		cfg.MinDeposit = min
	}
	if strings.TrimSpace(req.DepositCap) != "" {
		depositCap, err := parseAmount(req.DepositCap)
		if err != nil {
			writeError(w, err)
			return
		}
		cfg.DepositCap = depositCap
	}
	created, err := s.funds.CreateFund(cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fundToPayload(created))
}

func (s *Server) handleGetFund(w http.ResponseWriter, r *http.Request) {
	f, err := s.funds.GetFund(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fundToPayload(f))
}

type depositRequest struct {
	Amount      string `json:"amount"`
	Beneficiary string `json:"beneficiary"`
}

type depositResponse struct {
	Units string `json:"units"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	units, err := s.funds.Deposit(chi.URLParam(r, "id"), amount, req.Beneficiary)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse{Units: units.String()})
}

type withdrawRequest struct {
	Units       string `json:"units"`
	Beneficiary string `json:"beneficiary"`
	Owner       string `json:"owner"`
}

type withdrawResponse struct {
	Assets string `json:"assets"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	units, err := parseAmount(req.Units)
	if err != nil {
		writeError(w, err)
		return
	}
	assets, err := s.funds.Withdraw(chi.URLParam(r, "id"), units, req.Beneficiary, req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{Assets: assets.String()})
}

type redeemRequest struct {
	Assets      string `json:"assets"`
	Beneficiary string `json:"beneficiary"`
	Owner       string `json:"owner"`
}

type redeemResponse struct {
	Units string `json:"units"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	assets, err := parseAmount(req.Assets)
	if err != nil {
		writeError(w, err)
		return
	}
	units, err := s.funds.RedeemAssets(chi.URLParam(r, "id"), assets, req.Beneficiary, req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redeemResponse{Units: units.String()})
}

type addAllocationRequest struct {
	InstrumentID uint64 `json:"instrument_id"`
}

func (s *Server) handleAddAllocation(w http.ResponseWriter, r *http.Request) {
	var req addAllocationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	alloc, err := s.funds.AddAllocation(chi.URLParam(r, "id"), req.InstrumentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, allocationToPayload(alloc))
}

func (s *Server) handleRemoveAllocation(w http.ResponseWriter, r *http.Request) {
	instrumentID, err := parseID(r, "instrument")
	if err != nil {
		writeError(w, err)
		return
	}
	reason := r.URL.Query().Get("reason")
	alloc, err := s.funds.RemoveAllocation(chi.URLParam(r, "id"), instrumentID, reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allocationToPayload(alloc))
}

func (s *Server) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	allocs, err := s.funds.Allocations(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]allocationPayload, 0, len(allocs))
	for _, alloc := range allocs {
		out = append(out, allocationToPayload(alloc))
	}
	writeJSON(w, http.StatusOK, out)
}

type yieldRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handlePostYield(w http.ResponseWriter, r *http.Request) {
	var req yieldRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.funds.PostYield(chi.URLParam(r, "id"), amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type lossRequest struct {
	InstrumentID uint64 `json:"instrument_id"`
	Amount       string `json:"amount"`
}

func (s *Server) handlePostLoss(w http.ResponseWriter, r *http.Request) {
	var req lossRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.funds.PostLoss(chi.URLParam(r, "id"), req.InstrumentID, amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pricePayload struct {
	SharePrice string `json:"share_price"`
}

func (s *Server) handleSharePrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.funds.SharePrice(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pricePayload{SharePrice: price.String()})
}

type expectedYieldPayload struct {
	ExpectedYieldBp string `json:"expected_yield_bp"`
}

func (s *Server) handleExpectedYield(w http.ResponseWriter, r *http.Request) {
	bp, err := s.funds.ExpectedYieldBp(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, expectedYieldPayload{ExpectedYieldBp: bp.String()})
}

type positionPayload struct {
	Principal     string `json:"principal"`
	Units         string `json:"units"`
	AssetsValue   string `json:"assets_value"`
	PercentOfFund uint32 `json:"percent_of_fund_bp"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.funds.Position(chi.URLParam(r, "id"), chi.URLParam(r, "principal"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionPayload{
		Principal:     pos.Principal,
		Units:         pos.Units.String(),
		AssetsValue:   pos.AssetsValue.String(),
		PercentOfFund: pos.PercentOfFund,
	})
}
