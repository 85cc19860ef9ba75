package adminapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"referral-bot/internal/engine"
	"referral-bot/internal/errs"
	"referral-bot/internal/logging"
	"referral-bot/internal/models"
	"referral-bot/internal/money"
	"referral-bot/internal/promo"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var statusByCode = map[string]int{
	"not_found":          http.StatusNotFound,
	"invalid_amount":     http.StatusBadRequest,
	"insufficient_funds": http.StatusUnprocessableEntity,
	"below_minimum":      http.StatusUnprocessableEntity,
	"already_processed":  http.StatusConflict,
	"already_redeemed":   http.StatusConflict,
	"limit_reached":      http.StatusConflict,
	"inactive":           http.StatusConflict,
	"not_eligible":       http.StatusForbidden,
	"oracle_timeout":     http.StatusServiceUnavailable,
}

// fail writes err as {"error": code}. Failures outside the taxonomy are
// logged and reported as internal.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_event"})
		return
	case errors.Is(err, promo.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
		return
	case errors.Is(err, promo.ErrCodeExists):
		c.JSON(http.StatusConflict, gin.H{"error": "code_exists"})
		return
	}
	code := errs.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		logging.Error("Admin API request failed", zap.String("path", c.FullPath()), zap.Error(err))
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

type withdrawalView struct {
	ID          uint       `json:"id"`
	AccountID   int64      `json:"account_id"`
	Amount      string     `json:"amount"`
	Contact     string     `json:"contact"`
	Status      string     `json:"status"`
	AdminNote   string     `json:"admin_note,omitempty"`
	ProcessedBy *int64     `json:"processed_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func toWithdrawalView(w models.Withdrawal) withdrawalView {
	return withdrawalView{
		ID:          w.ID,
		AccountID:   w.AccountID,
		Amount:      w.Amount.String(),
		Contact:     w.Contact,
		Status:      string(w.Status),
		AdminNote:   w.AdminNote,
		ProcessedBy: w.ProcessedBy,
		CreatedAt:   w.CreatedAt,
		ProcessedAt: w.ProcessedAt,
	}
}

type codeView struct {
	Code               string    `json:"code"`
	RewardAmount       string    `json:"reward_amount"`
	MaxActivations     int       `json:"max_activations"`
	CurrentActivations int       `json:"current_activations"`
	IsActive           bool      `json:"is_active"`
	CreatorID          int64     `json:"creator_id"`
	Description        string    `json:"description,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

func toCodeView(p models.PromoCode) codeView {
	return codeView{
		Code:               p.Code,
		RewardAmount:       p.RewardAmount.String(),
		MaxActivations:     p.MaxActivations,
		CurrentActivations: p.CurrentActivations,
		IsActive:           p.IsActive,
		CreatorID:          p.CreatorID,
		Description:        p.Description,
		CreatedAt:          p.CreatedAt,
	}
}

func (s *Server) handleEvent(c *gin.Context) {
	var ev engine.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		badRequest(c, "invalid event")
		return
	}
	res, err := s.engine.Dispatch(c.Request.Context(), ev)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listPending(c *gin.Context) {
	list, err := s.engine.ListPending(c.Request.Context(), limitParam(c))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]withdrawalView, 0, len(list))
	for _, w := range list {
		out = append(out, toWithdrawalView(w))
	}
	c.JSON(http.StatusOK, out)
}

type decisionRequest struct {
	AdminID int64  `json:"admin_id" binding:"required"`
	Note    string `json:"note"`
}

func (s *Server) decide(c *gin.Context, approve bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid withdrawal id")
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "admin_id is required")
		return
	}

	var w *models.Withdrawal
	if approve {
		w, err = s.engine.Approve(c.Request.Context(), uint(id), req.AdminID, req.Note)
	} else {
		w, err = s.engine.Reject(c.Request.Context(), uint(id), req.AdminID, req.Note)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toWithdrawalView(*w))
}

func (s *Server) approve(c *gin.Context) { s.decide(c, true) }

func (s *Server) reject(c *gin.Context) { s.decide(c, false) }

type createCheckRequest struct {
	Code           string `json:"code"`
	Reward         string `json:"reward" binding:"required"`
	MaxActivations int    `json:"max_activations" binding:"required"`
	CreatorID      int64  `json:"creator_id"`
	Description    string `json:"description"`
}

func (s *Server) createCheck(c *gin.Context) {
	var req createCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "reward and max_activations are required")
		return
	}
	reward, err := money.Parse(req.Reward)
	if err != nil {
		fail(c, errs.ErrInvalidAmount)
		return
	}

	var code *models.PromoCode
	if req.Code != "" {
		code, err = s.engine.Promo.CreateNamedCode(c.Request.Context(), req.Code, reward, req.MaxActivations, req.CreatorID, req.Description)
	} else {
		code, err = s.engine.CreateCode(c.Request.Context(), reward, req.MaxActivations, req.CreatorID, req.Description)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCodeView(*code))
}

func (s *Server) listChecks(c *gin.Context) {
	codes, err := s.engine.ListCodes(c.Request.Context(), limitParam(c))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]codeView, 0, len(codes))
	for _, p := range codes {
		out = append(out, toCodeView(p))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getCheck(c *gin.Context) {
	code, err := s.engine.GetCodeInfo(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toCodeView(*code))
}

func (s *Server) deactivateCheck(c *gin.Context) {
	if err := s.engine.Deactivate(c.Request.Context(), c.Param("code")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

func accountID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid account id")
		return 0, false
	}
	return id, true
}

func (s *Server) getAccount(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	p, err := s.engine.Profile(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	acc := p.Account
	c.JSON(http.StatusOK, gin.H{
		"user_id":           acc.UserID,
		"username":          acc.Username,
		"full_name":         acc.FullName,
		"balance":           acc.Balance.String(),
		"referred_by":       acc.ReferredBy,
		"referral_paid":     acc.ReferralPaid,
		"referrals":         p.Referrals,
		"referral_earnings": p.ReferralEarnings.String(),
		"withdrawn":         p.Withdrawals.Approved.String(),
		"pending":           p.Withdrawals.Pending.String(),
		"created_at":        acc.CreatedAt,
	})
}

func (s *Server) getTransactions(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	if _, err := s.engine.GetAccount(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	txs, err := s.engine.GetTransactionHistory(c.Request.Context(), id, limitParam(c))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(txs))
	for _, tx := range txs {
		out = append(out, gin.H{
			"id":            tx.ID,
			"delta":         tx.Delta.String(),
			"balance_after": tx.BalanceAfter.String(),
			"kind":          tx.Kind,
			"description":   tx.Description,
			"created_at":    tx.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}
