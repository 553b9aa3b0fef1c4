package handler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethaccount/paymaster/erc4337"
	"github.com/ethaccount/paymaster/paymaster"
	"github.com/ethaccount/paymaster/src/domain"
	"github.com/ethaccount/paymaster/src/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultEntriesLimit = 20
	maxEntriesLimit     = 100
)

type PaymasterHandler struct {
	paymasterService *service.PaymasterService
}

func NewPaymasterHandler(paymasterService *service.PaymasterService) *PaymasterHandler {
	return &PaymasterHandler{
		paymasterService: paymasterService,
	}
}

func (h *PaymasterHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "paymaster").Logger()
	return &l
}

// WindowRequest is a validity window in unix seconds. validUntil 0 means no expiry.
type WindowRequest struct {
	ValidAfter uint64 `json:"validAfter"`
	ValidUntil uint64 `json:"validUntil"`
}

func (w *WindowRequest) toWindow() paymaster.ValidityWindow {
	return paymaster.ValidityWindow{ValidAfter: w.ValidAfter, ValidUntil: w.ValidUntil}
}

type SponsorRequest struct {
	UserOperation *erc4337.UserOperation `json:"userOperation" binding:"required"`
	Sponsor       string                 `json:"sponsor" binding:"required"`
	// Window defaults to [now, now + DEFAULT_VALIDITY].
	Window *WindowRequest `json:"window"`
}

type HashRequest struct {
	UserOperation *erc4337.UserOperation `json:"userOperation" binding:"required"`
	Sponsor       string                 `json:"sponsor" binding:"required"`
	Window        *WindowRequest         `json:"window" binding:"required"`
}

type HashResponse struct {
	Hash common.Hash `json:"hash"`
}

type ValidateRequest struct {
	UserOperation *erc4337.UserOperation `json:"userOperation" binding:"required"`
	// MaxCost defaults to the operation's required prefund.
	MaxCost *decimal.Decimal `json:"maxCost"`
}

type ValidateResponse struct {
	SigFailed      bool           `json:"sigFailed"`
	Sponsor        common.Address `json:"sponsor"`
	Hash           common.Hash    `json:"hash"`
	ValidAfter     uint64         `json:"validAfter"`
	ValidUntil     uint64         `json:"validUntil"`
	ValidationData *hexutil.Big   `json:"validationData"`
	Context        hexutil.Bytes  `json:"context"`
}

type PostOpRequest struct {
	Mode       string          `json:"mode" binding:"required"`
	Context    hexutil.Bytes   `json:"context" binding:"required"`
	ActualCost decimal.Decimal `json:"actualCost" binding:"required"`
}

type PostOpResponse struct {
	Charged string `json:"charged"`
}

type DepositRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// WithdrawRequest carries the owner's personal-sign signature over the
// withdraw digest of (sponsor, recipient, amount, nonce, deadline).
type WithdrawRequest struct {
	Recipient string          `json:"recipient" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Nonce     decimal.Decimal `json:"nonce"`
	Deadline  uint64          `json:"deadline" binding:"required"`
	Signature hexutil.Bytes   `json:"signature" binding:"required"`
}

type WithdrawResponse struct {
	Sponsor      common.Address `json:"sponsor"`
	Recipient    common.Address `json:"recipient"`
	Amount       string         `json:"amount"`
	BalanceAfter string         `json:"balanceAfter"`
}

type SponsorResponse struct {
	Sponsor common.Address `json:"sponsor"`
	Owner   common.Address `json:"owner"`
	Balance string         `json:"balance"`
}

type LedgerEntryResponse struct {
	Kind         string          `json:"kind"`
	Amount       string          `json:"amount"`
	BalanceAfter string          `json:"balanceAfter"`
	Counterparty *common.Address `json:"counterparty,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func newSponsorResponse(account *paymaster.SponsorAccount) SponsorResponse {
	return SponsorResponse{
		Sponsor: account.Sponsor,
		Owner:   account.Owner,
		Balance: account.Balance.String(),
	}
}

// GetInfo godoc
// @Summary Paymaster deployment info
// @Description Returns the paymaster, signing authority, entry point and chain id
// @Tags paymaster
// @Produce json
// @Success 200 {object} StandardResponse{data=service.PaymasterInfo}
// @Router /api/v1/info [get]
func (h *PaymasterHandler) GetInfo(c *gin.Context) {
	respondWithSuccess(c, h.paymasterService.Info())
}

// Sponsor godoc
// @Summary Sponsor a user operation
// @Description Signs a sponsorship and returns the paymasterData to attach to the operation
// @Tags paymaster
// @Accept json
// @Produce json
// @Param request body SponsorRequest true "Operation and sponsor"
// @Success 200 {object} StandardResponse{data=domain.Sponsorship}
// @Failure 400 {object} StandardResponse
// @Router /api/v1/sponsor [post]
func (h *PaymasterHandler) Sponsor(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "Sponsor").Logger()

	var req SponsorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}

	sponsor, err := parseAddress(req.Sponsor, "sponsor")
	if err != nil {
		respondWithError(c, err)
		return
	}

	var window *paymaster.ValidityWindow
	if req.Window != nil {
		w := req.Window.toWindow()
		window = &w
	}

	sponsorship, err := h.paymasterService.SponsorUserOperation(c.Request.Context(), req.UserOperation, sponsor, window)
	if err != nil {
		logger.Error().Err(err).Msg("failed to sponsor user operation")
		respondWithError(c, err)
		return
	}

	respondWithSuccess(c, sponsorship)
}

// GetHash godoc
// @Summary Compute the paymaster hash
// @Description Returns the hash the signing authority signs for an operation, sponsor and window
// @Tags paymaster
// @Accept json
// @Produce json
// @Param request body HashRequest true "Operation, sponsor and window"
// @Success 200 {object} StandardResponse{data=HashResponse}
// @Failure 400 {object} StandardResponse
// @Router /api/v1/hash [post]
func (h *PaymasterHandler) GetHash(c *gin.Context) {
	var req HashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}

	sponsor, err := parseAddress(req.Sponsor, "sponsor")
	if err != nil {
		respondWithError(c, err)
		return
	}

	hash, err := h.paymasterService.ComputeHash(c.Request.Context(), req.UserOperation, sponsor, req.Window.toWindow())
	if err != nil {
		respondWithError(c, err)
		return
	}

	respondWithSuccess(c, HashResponse{Hash: hash})
}

// Validate godoc
// @Summary Validate a sponsored user operation
// @Description Runs the paymaster validation against the operation's paymasterData. A wrong signer is reported with sigFailed, malformed data and insufficient funds fail the request.
// @Tags paymaster
// @Accept json
// @Produce json
// @Param request body ValidateRequest true "Operation with paymaster data"
// @Success 200 {object} StandardResponse{data=ValidateResponse}
// @Failure 400 {object} StandardResponse
// @Router /api/v1/validate [post]
func (h *PaymasterHandler) Validate(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "Validate").Logger()

	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}

	var maxCost *big.Int
	if req.MaxCost != nil {
		cost, err := weiFromDecimal(*req.MaxCost, "maxCost")
		if err != nil {
			respondWithError(c, err)
			return
		}
		maxCost = cost
	}

	outcome, err := h.paymasterService.Validate(c.Request.Context(), req.UserOperation, maxCost)
	if err != nil {
		respondWithError(c, err)
		return
	}

	logger.Debug().
		Bool("sig_failed", outcome.SigFailed).
		Str("sponsor", outcome.Sponsor.Hex()).
		Msg("user operation validated")

	respondWithSuccess(c, ValidateResponse{
		SigFailed:      outcome.SigFailed,
		Sponsor:        outcome.Sponsor,
		Hash:           outcome.Hash,
		ValidAfter:     outcome.Window.ValidAfter,
		ValidUntil:     outcome.Window.ValidUntil,
		ValidationData: (*hexutil.Big)(outcome.ValidationData()),
		Context:        outcome.Context,
	})
}

// PostOp godoc
// @Summary Settle a sponsored user operation
// @Description Charges the actual cost to the sponsor named in a context issued by /validate. The charge is capped at the validated maxCost and at the sponsor balance, and a context settles once.
// @Tags paymaster
// @Accept json
// @Produce json
// @Security ApiSecret
// @Param request body PostOpRequest true "Mode, context and actual cost"
// @Success 200 {object} StandardResponse{data=PostOpResponse}
// @Failure 400 {object} StandardResponse
// @Failure 401 {object} StandardResponse
// @Router /api/v1/postop [post]
func (h *PaymasterHandler) PostOp(c *gin.Context) {
	var req PostOpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}

	mode, err := paymaster.ParsePostOpMode(req.Mode)
	if err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid postOp mode")))
		return
	}

	actualCost, err := weiFromDecimal(req.ActualCost, "actualCost")
	if err != nil {
		respondWithError(c, err)
		return
	}

	charged, err := h.paymasterService.PostOp(c.Request.Context(), mode, req.Context, actualCost)
	if err != nil {
		respondWithError(c, err)
		return
	}

	respondWithSuccess(c, PostOpResponse{Charged: charged.String()})
}

// GetSponsorship godoc
// @Summary Get an issued sponsorship
// @Description Looks up a sponsorship by the hash of the sponsored user operation
// @Tags paymaster
// @Produce json
// @Param userOpHash path string true "User operation hash"
// @Success 200 {object} StandardResponse{data=domain.Sponsorship}
// @Failure 404 {object} StandardResponse
// @Router /api/v1/sponsorships/{userOpHash} [get]
func (h *PaymasterHandler) GetSponsorship(c *gin.Context) {
	raw, err := hexutil.Decode(c.Param("userOpHash"))
	if err != nil || len(raw) != common.HashLength {
		respondWithError(c, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			fmt.Errorf("invalid user operation hash %q", c.Param("userOpHash")),
			domain.WithMsg("Invalid user operation hash"),
		))
		return
	}

	sponsorship, err := h.paymasterService.GetSponsorship(c.Request.Context(), common.BytesToHash(raw))
	if err != nil {
		respondWithError(c, err)
		return
	}

	respondWithSuccess(c, sponsorship)
}

// GetSponsor godoc
// @Summary Get a sponsor account
// @Tags sponsors
// @Produce json
// @Param address path string true "Sponsor address"
// @Success 200 {object} StandardResponse{data=SponsorResponse}
// @Failure 400 {object} StandardResponse
// @Router /api/v1/sponsors/{address} [get]
func (h *PaymasterHandler) GetSponsor(c *gin.Context) {
	sponsor, err := parseAddress(c.Param("address"), "sponsor")
	if err != nil {
		respondWithError(c, err)
		return
	}

	account, err := h.paymasterService.GetSponsor(c.Request.Context(), sponsor)
	if err != nil {
		respondWithError(c, err)
		return
	}

	respondWithSuccess(c, newSponsorResponse(account))
}

// GetSponsorEntries godoc
// @Summary List sponsor ledger entries
// @Description Returns the most recent balance changes, newest first
// @Tags sponsors
// @Produce json
// @Param address path string true "Sponsor address"
// @Param limit query int false "Maximum number of entries (default 20, max 100)"
// @Success 200 {object} StandardResponse{data=[]LedgerEntryResponse}
// @Failure 400 {object} StandardResponse
// @Router /api/v1/sponsors/{address}/entries [get]
func (h *PaymasterHandler) GetSponsorEntries(c *gin.Context) {
	sponsor, err := parseAddress(c.Param("address"), "sponsor")
	if err != nil {
		respondWithError(c, err)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultEntriesLimit)))
	if err != nil || limit <= 0 || limit > maxEntriesLimit {
		respondWithError(c, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			fmt.Errorf("invalid limit %q", c.Query("limit")),
			domain.WithMsg(fmt.Sprintf("limit must be between 1 and %d", maxEntriesLimit)),
		))
		return
	}

	entries, err := h.paymasterService.GetSponsorHistory(c.Request.Context(), sponsor, limit)
	if err != nil {
		respondWithError(c, err)
		return
	}

	response := make([]LedgerEntryResponse, 0, len(entries))
	for _, entry := range entries {
		item := LedgerEntryResponse{
			Kind:         string(entry.Kind),
			Amount:       entry.Amount.String(),
			BalanceAfter: entry.BalanceAfter.String(),
			CreatedAt:    entry.CreatedAt,
		}
		if entry.Counterparty != (common.Address{}) {
			counterparty := entry.Counterparty
			item.Counterparty = &counterparty
		}
		response = append(response, item)
	}

	respondWithSuccess(c, response)
}

// Deposit godoc
// @Summary Deposit sponsor funds
// @Description Credits the sponsor balance. The first deposit makes the sponsor its own owner.
// @Tags sponsors
// @Accept json
// @Produce json
// @Security ApiSecret
// @Param address path string true "Sponsor address"
// @Param request body DepositRequest true "Amount in wei"
// @Success 200 {object} StandardResponse{data=SponsorResponse}
// @Failure 400 {object} StandardResponse
// @Failure 401 {object} StandardResponse
// @Router /api/v1/sponsors/{address}/deposit [post]
func (h *PaymasterHandler) Deposit(c *gin.Context) {
	sponsor, err := parseAddress(c.Param("address"), "sponsor")
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}

	amount, err := weiFromDecimal(req.Amount, "amount")
	if err != nil {
		respondWithError(c, err)
		return
	}

	account, err := h.paymasterService.Deposit(c.Request.Context(), sponsor, amount)
	if err != nil {
		respondWithError(c, err)
		return
	}

	respondWithSuccess(c, newSponsorResponse(account))
}

// Withdraw godoc
// @Summary Withdraw sponsor funds
// @Description Releases funds to a recipient. The signature must recover to the sponsor owner.
// @Tags sponsors
// @Accept json
// @Produce json
// @Security ApiSecret
// @Param address path string true "Sponsor address"
// @Param request body WithdrawRequest true "Recipient, amount in wei, nonce, deadline and owner signature"
// @Success 200 {object} StandardResponse{data=WithdrawResponse}
// @Failure 400 {object} StandardResponse
// @Failure 403 {object} StandardResponse
// @Router /api/v1/sponsors/{address}/withdraw [post]
func (h *PaymasterHandler) Withdraw(c *gin.Context) {
	sponsor, err := parseAddress(c.Param("address"), "sponsor")
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}

	recipient, err := parseAddress(req.Recipient, "recipient")
	if err != nil {
		respondWithError(c, err)
		return
	}
	amount, err := weiFromDecimal(req.Amount, "amount")
	if err != nil {
		respondWithError(c, err)
		return
	}
	nonce, err := weiFromDecimal(req.Nonce, "nonce")
	if err != nil {
		respondWithError(c, err)
		return
	}

	withdrawal, err := h.paymasterService.Withdraw(c.Request.Context(), &paymaster.WithdrawAuthorization{
		Sponsor:   sponsor,
		Recipient: recipient,
		Amount:    amount,
		Nonce:     nonce,
		Deadline:  req.Deadline,
	}, req.Signature)
	if err != nil {
		respondWithError(c, err)
		return
	}

	respondWithSuccess(c, WithdrawResponse{
		Sponsor:      withdrawal.Sponsor,
		Recipient:    withdrawal.Recipient,
		Amount:       withdrawal.Amount.String(),
		BalanceAfter: withdrawal.BalanceAfter.String(),
	})
}

func parseAddress(s, field string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			fmt.Errorf("invalid %s address %q", field, s),
			domain.WithMsg(fmt.Sprintf("Invalid %s address", field)),
		)
	}
	return common.HexToAddress(s), nil
}

// weiFromDecimal accepts non-negative whole numbers only.
func weiFromDecimal(d decimal.Decimal, field string) (*big.Int, error) {
	if d.IsNegative() || !d.IsInteger() {
		return nil, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			errors.New(field+" is not a non-negative integer"),
			domain.WithMsg(field+" must be a non-negative integer amount of wei"),
		)
	}
	return d.BigInt(), nil
}
