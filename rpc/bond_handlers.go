package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"bondmarket/crypto"
	"bondmarket/native/bond"
)

type marketResult struct {
	ID              uint64 `json:"id"`
	Owner           string `json:"owner"`
	PayoutToken     string `json:"payoutToken"`
	QuoteToken      string `json:"quoteToken"`
	Kind            string `json:"kind"`
	CapacityInQuote bool   `json:"capacityInQuote"`
	Capacity        string `json:"capacity"`
	TotalDebt       string `json:"totalDebt"`
	MaxDebt         string `json:"maxDebt"`
	MinPrice        string `json:"minPrice"`
	ControlVariable string `json:"controlVariable"`
	ScaleAdjustment int8   `json:"scaleAdjustment"`
	Vesting         int64  `json:"vesting"`
	Conclusion      int64  `json:"conclusion"`
	Closed          bool   `json:"closed"`
	Sold            string `json:"sold"`
	Purchased       string `json:"purchased"`
}

func marketResultFrom(m *bond.Market) marketResult {
	return marketResult{
		ID:              m.ID,
		Owner:           m.Owner.String(),
		PayoutToken:     m.PayoutToken,
		QuoteToken:      m.QuoteToken,
		Kind:            m.Kind.String(),
		CapacityInQuote: m.CapacityInQuote,
		Capacity:        m.Capacity.String(),
		TotalDebt:       m.TotalDebt.String(),
		MaxDebt:         m.MaxDebt.String(),
		MinPrice:        m.MinPrice.String(),
		ControlVariable: m.ControlVariable.String(),
		ScaleAdjustment: m.ScaleAdjustment,
		Vesting:         m.Vesting,
		Conclusion:      m.Conclusion,
		Closed:          m.Closed,
		Sold:            m.Sold.String(),
		Purchased:       m.Purchased.String(),
	}
}

type claimResult struct {
	ClaimID    string `json:"claimId"`
	Underlying string `json:"underlying"`
	Maturity   int64  `json:"maturity"`
	Issued     string `json:"issued"`
	Redeemed   string `json:"redeemed"`
}

func claimResultFrom(inst *bond.ClaimInstrument) claimResult {
	return claimResult{
		ClaimID:    hex.EncodeToString(inst.ID[:]),
		Underlying: inst.Underlying,
		Maturity:   inst.Maturity,
		Issued:     inst.Issued.String(),
		Redeemed:   inst.Redeemed.String(),
	}
}

func parseAddress(raw string) (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(raw))
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func parseClaimID(raw string) ([32]byte, error) {
	var id [32]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return id, err
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("claim id must be %d bytes", len(id))
	}
	copy(id[:], decoded)
	return id, nil
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handleCreateMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		Owner           string `json:"owner"`
		PayoutToken     string `json:"payoutToken"`
		QuoteToken      string `json:"quoteToken"`
		Callback        string `json:"callback,omitempty"`
		Kind            string `json:"kind"`
		CapacityInQuote bool   `json:"capacityInQuote"`
		Capacity        string `json:"capacity"`
		InitialPrice    string `json:"initialPrice"`
		MinPrice        string `json:"minPrice"`
		DebtBuffer      uint64 `json:"debtBuffer"`
		Vesting         int64  `json:"vesting"`
		Conclusion      int64  `json:"conclusion"`
		DepositInterval int64  `json:"depositInterval"`
		ScaleAdjustment int8   `json:"scaleAdjustment"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	owner, err := parseAddress(payload.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner address", err.Error())
		return
	}
	var kind bond.TellerKind
	switch strings.TrimSpace(payload.Kind) {
	case "fixed-term":
		kind = bond.TellerFixedTerm
	case "fixed-expiry":
		kind = bond.TellerFixedExpiry
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "kind must be fixed-term or fixed-expiry", nil)
		return
	}
	capacity, err := parseAmount(payload.Capacity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid capacity", err.Error())
		return
	}
	initialPrice, err := parseAmount(payload.InitialPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid initialPrice", err.Error())
		return
	}
	minPrice, err := parseAmount(payload.MinPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid minPrice", err.Error())
		return
	}
	params := bond.MarketParams{
		PayoutToken:     strings.TrimSpace(payload.PayoutToken),
		QuoteToken:      strings.TrimSpace(payload.QuoteToken),
		Callback:        strings.TrimSpace(payload.Callback),
		Kind:            kind,
		CapacityInQuote: payload.CapacityInQuote,
		Capacity:        capacity,
		InitialPrice:    initialPrice,
		MinPrice:        minPrice,
		DebtBuffer:      payload.DebtBuffer,
		Vesting:         payload.Vesting,
		Conclusion:      payload.Conclusion,
		DepositInterval: payload.DepositInterval,
		ScaleAdjustment: payload.ScaleAdjustment,
	}
	id, err := s.node.CreateMarket(owner, params)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"marketId": id})
}

func (s *Server) handleCloseMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		MarketID uint64 `json:"marketId"`
		Caller   string `json:"caller"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	caller, err := parseAddress(payload.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.CloseMarket(payload.MarketID, caller); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"closed": true})
}

func (s *Server) handlePurchase(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		Buyer        string `json:"buyer"`
		Recipient    string `json:"recipient,omitempty"`
		Referrer     string `json:"referrer,omitempty"`
		MarketID     uint64 `json:"marketId"`
		Amount       string `json:"amount"`
		MinAmountOut string `json:"minAmountOut,omitempty"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	buyer, err := parseAddress(payload.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid buyer address", err.Error())
		return
	}
	recipient := buyer
	if strings.TrimSpace(payload.Recipient) != "" {
		if recipient, err = parseAddress(payload.Recipient); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid recipient address", err.Error())
			return
		}
	}
	var referrer crypto.Address
	if strings.TrimSpace(payload.Referrer) != "" {
		if referrer, err = parseAddress(payload.Referrer); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid referrer address", err.Error())
			return
		}
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	var minAmountOut *big.Int
	if strings.TrimSpace(payload.MinAmountOut) != "" {
		if minAmountOut, err = parseAmount(payload.MinAmountOut); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid minAmountOut", err.Error())
			return
		}
	}
	receipt, err := s.node.Purchase(buyer, recipient, referrer, payload.MarketID, amount, minAmountOut)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	result := map[string]interface{}{
		"payout": receipt.Payout.String(),
		"price":  receipt.Price.String(),
	}
	if receipt.ClaimID != nil {
		result["claimId"] = hex.EncodeToString(receipt.ClaimID[:])
		result["maturity"] = receipt.Maturity
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleRedeem(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		Caller  string `json:"caller"`
		ClaimID string `json:"claimId"`
		Amount  string `json:"amount"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	caller, err := parseAddress(payload.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	claimID, err := parseClaimID(payload.ClaimID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid claim id", err.Error())
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	redeemed, err := s.node.Redeem(caller, claimID, amount)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"redeemed": redeemed.String()})
}

func (s *Server) handleClaimFees(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		Caller string   `json:"caller"`
		Assets []string `json:"assets"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	caller, err := parseAddress(payload.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	claimed, err := s.node.ClaimFees(caller, payload.Assets)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	result := make(map[string]string, len(claimed))
	for asset, amount := range claimed {
		result[asset] = amount.String()
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleRegisterToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		Symbol   string `json:"symbol"`
		Name     string `json:"name"`
		Decimals uint8  `json:"decimals"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	meta := &bond.TokenMeta{
		Symbol:   strings.TrimSpace(payload.Symbol),
		Name:     strings.TrimSpace(payload.Name),
		Decimals: payload.Decimals,
	}
	if err := s.node.RegisterToken(meta); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"registered": true})
}

func (s *Server) handleMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		Address string `json:"address"`
		Asset   string `json:"asset"`
		Amount  string `json:"amount"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	addr, err := parseAddress(payload.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.node.Mint(addr, strings.TrimSpace(payload.Asset), amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"minted": true})
}

func (s *Server) handleSetPaused(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		Module string `json:"module"`
		Paused bool   `json:"paused"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	var err error
	if payload.Paused {
		err = s.node.Pause(payload.Module)
	} else {
		err = s.node.Resume(payload.Module)
	}
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"paused": payload.Paused})
}

func (s *Server) handleGetMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		MarketID uint64 `json:"marketId"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	market, err := s.node.Market(payload.MarketID)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, marketResultFrom(market))
}

func (s *Server) handleGetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		MarketID uint64 `json:"marketId"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	price, err := s.node.MarketPrice(payload.MarketID)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"price": price.String()})
}

func (s *Server) handlePayoutFor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		MarketID uint64 `json:"marketId"`
		Amount   string `json:"amount"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	payout, price, err := s.node.PayoutFor(payload.MarketID, amount)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"payout": payout.String(),
		"price":  price.String(),
	})
}

func (s *Server) handleGetBondToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		Underlying string `json:"underlying"`
		Expiry     int64  `json:"expiry"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	inst, err := s.node.BondToken(strings.TrimSpace(payload.Underlying), payload.Expiry)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, claimResultFrom(inst))
}

func (s *Server) handleGetClaim(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		ClaimID string `json:"claimId"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	claimID, err := parseClaimID(payload.ClaimID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid claim id", err.Error())
		return
	}
	inst, ok, err := s.node.Claim(claimID)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	if !ok {
		writeModuleError(w, req.ID, bond.ErrUnknownClaim)
		return
	}
	writeResult(w, req.ID, claimResultFrom(inst))
}

func (s *Server) handleGetClaimBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		ClaimID string `json:"claimId"`
		Address string `json:"address"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	claimID, err := parseClaimID(payload.ClaimID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid claim id", err.Error())
		return
	}
	addr, err := parseAddress(payload.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	balance, err := s.node.ClaimBalance(claimID, addr)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		Address string `json:"address"`
		Asset   string `json:"asset"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	addr, err := parseAddress(payload.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	balance, err := s.node.Balance(addr, strings.TrimSpace(payload.Asset))
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}

func (s *Server) handleListMarkets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		PayoutToken string `json:"payoutToken"`
		QuoteToken  string `json:"quoteToken"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	ids, err := s.node.MarketsFor(strings.TrimSpace(payload.PayoutToken), strings.TrimSpace(payload.QuoteToken))
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string][]uint64{"markets": ids})
}

func (s *Server) handleLiveMarkets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		PayoutToken string `json:"payoutToken"`
		QuoteToken  string `json:"quoteToken"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	ids, err := s.node.LiveMarketsFor(strings.TrimSpace(payload.PayoutToken), strings.TrimSpace(payload.QuoteToken))
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string][]uint64{"markets": ids})
}

func (s *Server) handleFindMarketFor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var payload struct {
		PayoutToken   string `json:"payoutToken"`
		QuoteToken    string `json:"quoteToken"`
		AmountIn      string `json:"amountIn"`
		MinAmountOut  string `json:"minAmountOut,omitempty"`
		MaxConclusion int64  `json:"maxConclusion,omitempty"`
	}
	if err := decodeSingleParam(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	amountIn, err := parseAmount(payload.AmountIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amountIn", err.Error())
		return
	}
	var minAmountOut *big.Int
	if strings.TrimSpace(payload.MinAmountOut) != "" {
		if minAmountOut, err = parseAmount(payload.MinAmountOut); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid minAmountOut", err.Error())
			return
		}
	}
	id, err := s.node.FindMarketFor(
		strings.TrimSpace(payload.PayoutToken),
		strings.TrimSpace(payload.QuoteToken),
		amountIn, minAmountOut, payload.MaxConclusion,
	)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"marketId": id})
}

func (s *Server) handleMarketCounter(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	counter, err := s.node.MarketCounter()
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"counter": counter})
}

func (s *Server) handleListTokens(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	symbols, err := s.node.Tokens()
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string][]string{"tokens": symbols})
}

func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, s.node.Events())
}
