package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"

	"spxopt/internal/builder"
	apperrors "spxopt/internal/errors"
	"spxopt/internal/models"
	"spxopt/internal/position"
	"spxopt/internal/pricing"
	"spxopt/internal/resilience"
	"spxopt/internal/store"
)

// LegInput is a leg in a request body: either Text ("buy 2 4000 C 2026-03-20")
// or the separate fields.
type LegInput struct {
	Text       string  `json:"text,omitempty"`
	Expiration string  `json:"expiration,omitempty"`
	Strike     float64 `json:"strike,omitempty"`
	Right      string  `json:"right,omitempty"`
	Action     string  `json:"action,omitempty"`
	Multiplier int     `json:"multiplier,omitempty"`
}

// PositionRequest carries the legs shown by the caller.
type PositionRequest struct {
	Legs []LegInput `json:"legs"`
}

// PayoffRequest asks for the expiration payoff of a position. CostBasis
// defaults to the lazy total, Min and Max to the padded strike range.
type PayoffRequest struct {
	Legs      []LegInput `json:"legs"`
	CostBasis *float64   `json:"cost_basis,omitempty"`
	Min       *float64   `json:"min,omitempty"`
	Max       *float64   `json:"max,omitempty"`
	Steps     int        `json:"steps,omitempty"`
}

// PayoffResponse is a sampled payoff curve.
type PayoffResponse struct {
	CostBasis float64              `json:"cost_basis"`
	Points    []models.PayoffPoint `json:"points"`
	Summary   pricing.Summary      `json:"summary"`
	Resolved  []models.ResolvedLeg `json:"resolved,omitempty"`
}

// LegEditRequest changes a position by one leg.
type LegEditRequest struct {
	Legs []LegInput `json:"legs"`
	Leg  LegInput   `json:"leg"`
}

// Health reports component health.
func (s *Server) Health(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": resilience.HealthStatusHealthy})
		return
	}
	h := s.health.Check(c.Request.Context())
	status := http.StatusOK
	if h.Status == resilience.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

// HistoryExpirations lists stored expirations.
func (s *Server) HistoryExpirations(c *gin.Context) {
	exps, err := s.repo.Expirations(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"underlying": s.repo.Underlying(), "expirations": dates(exps)})
}

// HistoryStrikes lists stored strikes of an expiration.
func (s *Server) HistoryStrikes(c *gin.Context) {
	exp, err := queryDate(c, "expiration")
	if err != nil {
		s.writeError(c, err)
		return
	}
	strikes, err := s.repo.Strikes(c.Request.Context(), exp)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if strikes == nil {
		strikes = []float64{}
	}
	c.JSON(http.StatusOK, gin.H{"expiration": exp, "strikes": strikes})
}

// HistoryPrices returns the stored bid/ask/last series of one contract, as
// JSON or, with format=csv, as CSV.
func (s *Server) HistoryPrices(c *gin.Context) {
	key, err := queryKey(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	points, err := s.repo.PriceHistory(c.Request.Context(), key.Expiration, key.Strike, key.Right)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if strings.EqualFold(c.Query("format"), "csv") {
		c.Header("Content-Type", "text/csv")
		if err := store.ExportHistoryCSV(c.Writer, key, points); err != nil {
			s.logger.Error().Err(err).Msg("Failed to write CSV")
		}
		return
	}
	if points == nil {
		points = []models.PricePoint{}
	}
	c.JSON(http.StatusOK, gin.H{"contract": key.String(), "points": points})
}

// ChainExpirations lists the live source's expirations.
func (s *Server) ChainExpirations(c *gin.Context) {
	exps, err := builder.Expirations(c.Request.Context(), s.src)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expirations": dates(exps)})
}

// Chain returns the live chain of one expiration.
func (s *Server) Chain(c *gin.Context) {
	exp, err := queryDate(c, "expiration")
	if err != nil {
		s.writeError(c, err)
		return
	}
	quotes, err := s.src.Chain(c.Request.Context(), exp)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if quotes == nil {
		quotes = []models.Quote{}
	}
	c.JSON(http.StatusOK, gin.H{"expiration": exp, "quotes": quotes})
}

// PositionPrice resolves the legs and returns both bot totals.
func (s *Server) PositionPrice(c *gin.Context) {
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperrors.NewValidationError("body", "", err.Error()))
		return
	}
	legs, err := s.legs(c, req.Legs)
	if err != nil {
		s.writeError(c, err)
		return
	}
	res, err := builder.Resolve(c.Request.Context(), legs, s.src)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// PositionPayoff samples the expiration payoff.
func (s *Server) PositionPayoff(c *gin.Context) {
	var req PayoffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperrors.NewValidationError("body", "", err.Error()))
		return
	}
	legs, err := s.legs(c, req.Legs)
	if err != nil {
		s.writeError(c, err)
		return
	}

	var resp PayoffResponse
	if req.CostBasis != nil {
		resp.CostBasis = *req.CostBasis
	} else if len(legs) > 0 {
		res, err := builder.Resolve(c.Request.Context(), legs, s.src)
		if err != nil {
			s.writeError(c, err)
			return
		}
		resp.CostBasis = res.Lazy
		resp.Resolved = res.Resolved
	}

	sMin, sMax := pricing.DefaultRange(legs, s.pad)
	if req.Min != nil {
		sMin = *req.Min
	}
	if req.Max != nil {
		sMax = *req.Max
	}
	steps := req.Steps
	if steps <= 0 {
		steps = s.steps
	}

	resp.Points = pricing.PayoffCurve(legs, resp.CostBasis, sMin, sMax, steps)
	resp.Summary = pricing.PayoffSummary(resp.Points, resp.CostBasis)
	c.JSON(http.StatusOK, resp)
}

// AddLeg merges a leg into the position and returns the new legs.
func (s *Server) AddLeg(c *gin.Context) {
	p, leg, ok := s.bindEdit(c, false)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"legs": position.AddOrMerge(p, leg).Legs()})
}

// EditLeg replaces the leg at :index and returns the new legs.
func (s *Server) EditLeg(c *gin.Context) {
	index, err := pathIndex(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	p, leg, ok := s.bindEdit(c, true)
	if !ok {
		return
	}
	next, err := position.Edit(p, index, leg)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"legs": next.Legs()})
}

// RemoveLeg removes the leg at :index and returns the new legs.
func (s *Server) RemoveLeg(c *gin.Context) {
	index, err := pathIndex(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperrors.NewValidationError("body", "", err.Error()))
		return
	}
	legs, err := s.legs(c, req.Legs)
	if err != nil {
		s.writeError(c, err)
		return
	}
	p, err := indexedPosition(legs)
	if err != nil {
		s.writeError(c, err)
		return
	}
	next, err := position.Remove(p, index)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"legs": next.Legs()})
}

// StreamSnapshots sends every stored snapshot as a server-sent event until
// the client disconnects.
func (s *Server) StreamSnapshots(c *gin.Context) {
	underlying := s.repo.Underlying()
	ch := s.hub.Subscribe(underlying)
	defer s.hub.Unsubscribe(underlying, ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
	c.Stream(func(io.Writer) bool {
		select {
		case snap, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", snap)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// bindEdit reads a LegEditRequest. When indexed is set the legs must already
// be in the order an :index refers to.
func (s *Server) bindEdit(c *gin.Context, indexed bool) (position.Position, models.Leg, bool) {
	var req LegEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperrors.NewValidationError("body", "", err.Error()))
		return position.Position{}, models.Leg{}, false
	}
	legs, err := s.legs(c, req.Legs)
	if err != nil {
		s.writeError(c, err)
		return position.Position{}, models.Leg{}, false
	}
	leg, err := s.leg(c, req.Leg)
	if err != nil {
		s.writeError(c, err)
		return position.Position{}, models.Leg{}, false
	}
	if !indexed {
		return position.New(legs...), leg, true
	}
	p, err := indexedPosition(legs)
	if err != nil {
		s.writeError(c, err)
		return position.Position{}, models.Leg{}, false
	}
	return p, leg, true
}

// indexedPosition builds the position an :index addresses. Indexes count rows
// of a netted, sorted position, so legs that netting would merge or reorder
// are rejected instead of silently shifting the index.
func indexedPosition(legs []models.Leg) (position.Position, error) {
	p := position.New(legs...)
	canonical := p.Legs()
	ok := len(canonical) == len(legs)
	for i := 0; ok && i < len(legs); i++ {
		ok = legs[i] == canonical[i]
	}
	if !ok {
		return position.Position{}, apperrors.NewValidationError("legs", len(legs),
			"must be netted and sorted as returned by the position endpoints to address a leg by index")
	}
	return p, nil
}

func (s *Server) legs(c *gin.Context, in []LegInput) ([]models.Leg, error) {
	legs := make([]models.Leg, 0, len(in))
	for _, li := range in {
		leg, err := s.leg(c, li)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}
	return legs, nil
}

func (s *Server) leg(c *gin.Context, in LegInput) (models.Leg, error) {
	ctx := c.Request.Context()
	if in.Text != "" {
		if err := s.validator.ValidateLegText(ctx, in.Text); err != nil {
			return models.Leg{}, err
		}
		leg, err := models.ParseLeg(in.Text)
		if err != nil {
			s.validator.Reject(ctx, "leg", in.Text, err)
		}
		return leg, err
	}

	exp, err := civil.ParseDate(in.Expiration)
	if err != nil {
		return models.Leg{}, apperrors.NewValidationError("expiration", in.Expiration, "expected YYYY-MM-DD")
	}
	right, err := models.ParseRight(in.Right)
	if err != nil {
		return models.Leg{}, err
	}
	action, err := models.ParseAction(in.Action)
	if err != nil {
		return models.Leg{}, err
	}
	multiplier := in.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}
	return models.NewLeg(exp, in.Strike, right, action, multiplier)
}

// writeError maps an error to a status code and a JSON body.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var supplierErr *apperrors.SupplierError
	switch {
	case apperrors.Is(err, apperrors.ErrInputValidation):
		status = http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrLegIndex), apperrors.Is(err, apperrors.ErrDataNotFound):
		status = http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrReadOnlyMode):
		status = http.StatusForbidden
	case apperrors.Is(err, apperrors.ErrTimeout), apperrors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case apperrors.Is(err, apperrors.ErrConnectionFailed), errors.As(err, &supplierErr):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func queryDate(c *gin.Context, name string) (civil.Date, error) {
	raw := c.Query(name)
	d, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, apperrors.NewValidationError(name, raw, "expected YYYY-MM-DD")
	}
	return d, nil
}

func queryKey(c *gin.Context) (models.ContractKey, error) {
	exp, err := queryDate(c, "expiration")
	if err != nil {
		return models.ContractKey{}, err
	}
	strike, err := strconv.ParseFloat(c.Query("strike"), 64)
	if err != nil || strike <= 0 {
		return models.ContractKey{}, apperrors.NewValidationError("strike", c.Query("strike"), "must be a positive number")
	}
	right, err := models.ParseRight(c.Query("right"))
	if err != nil {
		return models.ContractKey{}, err
	}
	return models.ContractKey{Expiration: exp, Strike: strike, Right: right}, nil
}

func pathIndex(c *gin.Context) (int, error) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return 0, apperrors.NewValidationError("index", c.Param("index"), "must be an integer")
	}
	return index, nil
}

func dates(ds []civil.Date) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}
