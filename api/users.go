package api

import (
	"net/http"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"edgesync.shamra.dev/users"
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string          `json:"token"`
	User  *users.Response `json:"user"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var req users.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed payload"})
	}
	if req.Username == "" || req.Phone == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "username and phone required"})
	}

	u, err := s.users.Register(c.Request().Context(), req)
	if err != nil {
		return respondError(c, err)
	}

	token, err := s.tokens.Generate(u)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, tokenResponse{Token: token, User: u.ToResponse()})
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed payload"})
	}

	u, err := s.users.Authenticate(c.Request().Context(), req.Login, req.Password)
	if err != nil {
		return respondError(c, err)
	}

	token, err := s.tokens.Generate(u)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, tokenResponse{Token: token, User: u.ToResponse()})
}

// claimsFrom extracts the validated token claims the JWT middleware stored
// on the context.
func claimsFrom(c echo.Context) (*users.Claims, bool) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return nil, false
	}
	claims, ok := token.Claims.(*users.Claims)
	return claims, ok
}

func (s *Server) handleMe(c echo.Context) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid token"})
	}

	u, err := s.users.GetByID(c.Request().Context(), claims.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, u.ToResponse())
}

func (s *Server) handleListMessages(c echo.Context) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid token"})
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid limit"})
		}
		limit = n
	}

	msgs, err := s.messages.ListForUser(c.Request().Context(), claims.UserID, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"count":    len(msgs),
	})
}

type createMessageRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

func (s *Server) handleCreateMessage(c echo.Context) error {
	var req createMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed payload"})
	}
	if req.UserID == "" || req.Title == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "user_id and title required"})
	}

	msg, err := s.messages.Create(c.Request().Context(), req.UserID, req.Title, req.Body)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (s *Server) handleDeleteMessage(c echo.Context) error {
	if err := s.messages.SoftDelete(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
