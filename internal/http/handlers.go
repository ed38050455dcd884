package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"weeklytotals/internal/core"
	"weeklytotals/internal/week"
)

// bindAndValidate decodes the body into req, applies normalize and runs the
// struct validator.
func bindAndValidate[T any, P interface {
	*T
	normalize()
}](c echo.Context) (T, error) {
	var req T
	if err := c.Bind(&req); err != nil {
		return req, err
	}
	P(&req).normalize()
	if err := c.Validate(&req); err != nil {
		return req, err
	}
	return req, nil
}

func transactionID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid transaction id")
	}
	return id, nil
}

func (s *Server) handleHealth(c echo.Context) error {
	listening := false
	if s.sync != nil {
		listening = s.sync.IsListening()
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:    "ok",
		Week:      s.ledger.Weeks().CurrentWeek(),
		Listening: listening,
	})
}

func (s *Server) handleCurrentWeek(c echo.Context) error {
	return s.renderWeek(c, s.ledger.Weeks().CurrentWeek())
}

func (s *Server) handleWeek(c echo.Context) error {
	key := c.Param("week")
	if !week.Valid(key) {
		return fmt.Errorf("week %q: %w", key, core.ErrInvalidWeekKey)
	}
	return s.renderWeek(c, key)
}

func (s *Server) renderWeek(c echo.Context, key string) error {
	summary, err := s.ledger.WeekSummary(c.Request().Context(), key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newWeekResponse(summary))
}

func (s *Server) handleCreateTransaction(c echo.Context) error {
	req, err := bindAndValidate[transactionRequest](c)
	if err != nil {
		return err
	}
	t, err := req.toTransaction()
	if err != nil {
		return err
	}
	created, err := s.ledger.AddTransaction(c.Request().Context(), t, core.OriginLocal)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newTransactionResponse(created))
}

// handleUpdateTransaction edits week, category and amount. The entry's
// identity and adjustment flag are kept.
func (s *Server) handleUpdateTransaction(c echo.Context) error {
	id, err := transactionID(c)
	if err != nil {
		return err
	}
	req, err := bindAndValidate[transactionRequest](c)
	if err != nil {
		return err
	}
	edit, err := req.toTransaction()
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	current, err := s.ledger.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	current.Category = edit.Category
	current.Amount = edit.Amount
	if edit.WeekKey != "" {
		current.WeekKey = edit.WeekKey
	}
	updated, err := s.ledger.UpdateTransaction(ctx, current, core.OriginLocal)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newTransactionResponse(updated))
}

func (s *Server) handleDeleteTransaction(c echo.Context) error {
	id, err := transactionID(c)
	if err != nil {
		return err
	}
	if err := s.ledger.DeleteTransaction(c.Request().Context(), id, core.OriginLocal); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListCategories(c echo.Context) error {
	categories, err := s.ledger.ListCategories(c.Request().Context())
	if err != nil {
		return err
	}
	res := make([]categoryResponse, 0, len(categories))
	for _, cat := range categories {
		res = append(res, newCategoryResponse(cat))
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCreateCategory(c echo.Context) error {
	req, err := bindAndValidate[categoryRequest](c)
	if err != nil {
		return err
	}
	saved, err := s.ledger.SaveCategory(c.Request().Context(), req.toCategory(), core.OriginLocal)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newCategoryResponse(saved))
}

func (s *Server) handleUpdateCategory(c echo.Context) error {
	req, err := bindAndValidate[categoryRequest](c)
	if err != nil {
		return err
	}
	if name := normalizeCategoryName(c.Param("name")); name != req.Name {
		return echo.NewHTTPError(http.StatusBadRequest, "category name cannot be changed")
	}
	saved, err := s.ledger.UpdateCategory(c.Request().Context(), req.toCategory(), core.OriginLocal)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newCategoryResponse(saved))
}

func (s *Server) handleDeleteCategory(c echo.Context) error {
	name := normalizeCategoryName(c.Param("name"))
	if err := s.ledger.DeleteCategory(c.Request().Context(), name, core.OriginLocal); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetBudget(c echo.Context) error {
	b, err := s.ledger.GetBudget(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newBudgetResponse(b))
}

func (s *Server) handleSetupBudget(c echo.Context) error {
	req, err := bindAndValidate[budgetRequest](c)
	if err != nil {
		return err
	}
	amount, err := req.amount()
	if err != nil {
		return err
	}
	b, err := s.ledger.SetupBudget(c.Request().Context(), amount)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newBudgetResponse(b))
}

// handleStageBudget records a new amount that takes effect at the next
// week change.
func (s *Server) handleStageBudget(c echo.Context) error {
	req, err := bindAndValidate[budgetRequest](c)
	if err != nil {
		return err
	}
	amount, err := req.amount()
	if err != nil {
		return err
	}
	b, err := s.ledger.StageBudget(c.Request().Context(), amount)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, newBudgetResponse(b))
}

func (s *Server) handleReset(c echo.Context) error {
	if err := s.ledger.Reset(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
