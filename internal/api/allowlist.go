package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/etwicaksono/droid-remote/internal/permission"
)

func (h *Handlers) listRules(c *gin.Context) {
	var (
		rules []*permission.Rule
		err   error
	)
	if sessionID := c.Query("session_id"); sessionID != "" {
		rules, err = h.perms.ListRules(c.Request.Context(), sessionID)
	} else {
		rules, err = h.perms.ListAllRules(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

type ruleRequest struct {
	ToolName  string `json:"tool_name" binding:"required"`
	Pattern   string `json:"pattern" binding:"required"`
	RuleType  string `json:"rule_type"`
	Scope     string `json:"scope"`
	SessionID string `json:"session_id"`
}

func (h *Handlers) addRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ruleType := permission.RuleType(req.RuleType)
	if ruleType == "" {
		ruleType = permission.RuleAllow
	}
	if ruleType != permission.RuleAllow && ruleType != permission.RuleDeny {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rule_type must be 'allow' or 'deny'"})
		return
	}
	scope := permission.Scope(req.Scope)
	if scope == "" {
		scope = permission.ScopeGlobal
	}
	switch scope {
	case permission.ScopeGlobal:
		req.SessionID = ""
	case permission.ScopeSession:
		if req.SessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required for session scope"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be 'global' or 'session'"})
		return
	}

	rule := &permission.Rule{
		ToolName:  req.ToolName,
		Pattern:   req.Pattern,
		RuleType:  ruleType,
		Scope:     scope,
		SessionID: req.SessionID,
	}
	if err := h.perms.AddRule(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "rule": rule})
}

func (h *Handlers) deleteRule(c *gin.Context) {
	ruleID, err := strconv.ParseInt(c.Param("ruleId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}
	if err := h.perms.DeleteRule(c.Request.Context(), ruleID); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
