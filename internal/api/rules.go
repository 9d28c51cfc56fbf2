package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"serotonyl.ru/cashier/internal/features/actors"
	"serotonyl.ru/cashier/internal/features/rules"
)

// GameRequest: тело PUT /games/:id.
type GameRequest struct {
	Name   string `json:"name"`
	Active *bool  `json:"active"`
}

// effectiveRule: GET /rules/effective?user_id=&game_id=
func (s *Server) effectiveRule(c *gin.Context) {
	eff, err := s.deps.Rules.Resolve(c.Request.Context(), c.Query("user_id"), c.Query("game_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, eff)
}

// putRule: PUT /rules/:scope/:scope_id. Незаданные поля наследуются с уровня выше.
func (s *Server) putRule(c *gin.Context) {
	var f rules.Fields
	if err := c.ShouldBindJSON(&f); err != nil {
		badRequest(c, err)
		return
	}
	scope := rules.Scope(c.Param("scope"))
	if err := s.deps.Rules.PutRule(c.Request.Context(), scope, c.Param("scope_id"), f); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scope": scope, "scope_id": c.Param("scope_id"), "fields": f})
}

func (s *Server) deleteRule(c *gin.Context) {
	scope := rules.Scope(c.Param("scope"))
	if err := s.deps.Rules.DeleteRule(c.Request.Context(), scope, c.Param("scope_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) putGame(c *gin.Context) {
	var body GameRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	g := rules.Game{ID: c.Param("id"), Name: body.Name, Active: true}
	if body.Active != nil {
		g.Active = *body.Active
	}
	if err := s.deps.Rules.PutGame(c.Request.Context(), g); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) listActors(c *gin.Context) {
	list, err := s.deps.Actors.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []*actors.Actor{}
	}
	c.JSON(http.StatusOK, gin.H{"actors": list})
}

func (s *Server) getActor(c *gin.Context) {
	a, err := s.deps.Actors.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// putActor: PUT /actors/:id, актор заменяется целиком.
func (s *Server) putActor(c *gin.Context) {
	var a actors.Actor
	if err := c.ShouldBindJSON(&a); err != nil {
		badRequest(c, err)
		return
	}
	a.ID = c.Param("id")
	if existing, err := s.deps.Actors.Get(c.Request.Context(), a.ID); err == nil {
		a.CreatedAt = existing.CreatedAt
	}
	if err := s.deps.Actors.Put(c.Request.Context(), &a); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
