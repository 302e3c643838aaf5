package main

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rbroggi/configstore"
	"github.com/rbroggi/configstore/labelrules"
	"github.com/rbroggi/configstore/overlay"
)

// server wires configstore.VersionedConfigStore and the labelrules overlay
// onto a gin.Engine, demonstrating the two layers end to end.
type server struct {
	lgr       *slog.Logger
	versioned *configstore.VersionedConfigStore
	sink      overlay.EventSink
}

func newRouter(s *server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())

	cfg := r.Group("/tenants/:tenantId/namespaces/:namespace/resources/:resource")
	cfg.PUT("/contexts/:context", s.putConfigHandler)
	cfg.GET("/contexts/:context", s.getConfigHandler)
	cfg.DELETE("/contexts/:context", s.deleteConfigHandler)
	cfg.GET("", s.listConfigsHandler)
	cfg.POST("/bulk", s.bulkWriteHandler)

	rules := r.Group("/tenants/:tenantId/label-rules")
	rules.GET("", s.listRulesHandler)
	rules.PUT("/:ruleId", s.putRuleHandler)
	rules.DELETE("/:ruleId", s.deleteRuleHandler)

	return r
}

func (s *server) putConfigHandler(c *gin.Context) {
	userID := c.GetHeader("user-id")
	userEmail := c.GetHeader("user-email")
	if userID == "" {
		c.Status(http.StatusUnauthorized)
		return
	}
	var body struct {
		Config          any           `json:"config"`
		UpsertCondition *predicateDTO `json:"upsertCondition"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resource := resourceFromParams(c)
	upserted, err := s.versioned.WriteConfig(c.Request.Context(), userID, userEmail, configstore.WriteConfigRequest{
		Resource:        resource,
		Context:         c.Param("context"),
		Config:          body.Config,
		UpsertCondition: body.UpsertCondition.toNode(),
	})
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, upserted)
}

func (s *server) getConfigHandler(c *gin.Context) {
	resource := resourceFromParams(c)
	got, err := s.versioned.GetConfig(c.Request.Context(), configstore.ConfigResourceContext{
		ConfigResource: resource,
		Context:        c.Param("context"),
	})
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if got == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, got)
}

func (s *server) deleteConfigHandler(c *gin.Context) {
	if c.GetHeader("user-id") == "" {
		c.Status(http.StatusUnauthorized)
		return
	}
	resource := resourceFromParams(c)
	err := s.versioned.DeleteConfigs(c.Request.Context(), []configstore.ConfigResourceContext{{
		ConfigResource: resource,
		Context:        c.Param("context"),
	}})
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) listConfigsHandler(c *gin.Context) {
	resource := resourceFromParams(c)
	all, err := s.versioned.GetAllConfigs(c.Request.Context(), resource)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, all)
}

func (s *server) bulkWriteHandler(c *gin.Context) {
	userID := c.GetHeader("user-id")
	userEmail := c.GetHeader("user-email")
	if userID == "" {
		c.Status(http.StatusUnauthorized)
		return
	}
	resource := resourceFromParams(c)
	var body struct {
		Writes []struct {
			Context string `json:"context"`
			Config  any    `json:"config"`
		} `json:"writes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	writes := make([]configstore.ConfigWrite, len(body.Writes))
	for i, w := range body.Writes {
		writes[i] = configstore.ConfigWrite{
			Context: configstore.ConfigResourceContext{ConfigResource: resource, Context: w.Context},
			Config:  w.Config,
		}
	}
	results, err := s.versioned.WriteAllConfigs(c.Request.Context(), userID, userEmail, configstore.WriteAllConfigsRequest{Writes: writes})
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// rulesStore builds a per-request labelrules.Store scoped to the tenant in
// the URL. It is cheap: overlay.Store holds only references.
func (s *server) rulesStore(c *gin.Context) *labelrules.Store {
	return labelrules.NewStore(s.versioned, c.Param("tenantId"), c.GetHeader("user-id"), c.GetHeader("user-email"), s.sink)
}

func (s *server) listRulesHandler(c *gin.Context) {
	rules, err := s.rulesStore(c).GetAll(c.Request.Context(), labelrules.Filter{})
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (s *server) putRuleHandler(c *gin.Context) {
	if c.GetHeader("user-id") == "" {
		c.Status(http.StatusUnauthorized)
		return
	}
	var rule labelrules.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule.RuleID = c.Param("ruleId")
	saved, err := s.rulesStore(c).Upsert(c.Request.Context(), rule)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *server) deleteRuleHandler(c *gin.Context) {
	if c.GetHeader("user-id") == "" {
		c.Status(http.StatusUnauthorized)
		return
	}
	if err := s.rulesStore(c).Delete(c.Request.Context(), c.Param("ruleId")); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// requestID assigns a correlation id to every inbound call, echoed in the
// response so a client can quote it when reporting a failure.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("x-request-id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("x-request-id", id)
		c.Next()
	}
}

// predicateDTO is the JSON wire shape of the public predicate grammar: a
// relational leaf (lhs/op/rhs) or a logical node (op/children). Operator
// validation belongs to configstore.CompileFilter, not here - an unknown
// op simply reaches the compiler and comes back InvalidArgument.
type predicateDTO struct {
	LHS      string         `json:"lhs,omitempty"`
	Op       string         `json:"op"`
	RHS      any            `json:"rhs,omitempty"`
	Children []predicateDTO `json:"children,omitempty"`
}

func (p *predicateDTO) toNode() configstore.PredicateNode {
	if p == nil {
		return nil
	}
	switch configstore.LogicalOp(p.Op) {
	case configstore.LogicalAND, configstore.LogicalOR, configstore.LogicalNOT:
		children := make([]configstore.PredicateNode, 0, len(p.Children))
		for i := range p.Children {
			children = append(children, p.Children[i].toNode())
		}
		return configstore.LogicalNode{Op: configstore.LogicalOp(p.Op), Children: children}
	default:
		return configstore.RelationalNode{LHS: p.LHS, Op: configstore.RelOp(p.Op), RHS: p.RHS}
	}
}

func resourceFromParams(c *gin.Context) configstore.ConfigResource {
	return configstore.ConfigResource{
		TenantID:          c.Param("tenantId"),
		ResourceNamespace: c.Param("namespace"),
		ResourceName:      c.Param("resource"),
	}
}

func writeStoreError(c *gin.Context, err error) {
	kind, ok := configstore.KindOf(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch kind {
	case configstore.InvalidArgument:
		status = http.StatusBadRequest
	case configstore.FailedPrecondition:
		status = http.StatusConflict
	case configstore.Unavailable:
		status = http.StatusServiceUnavailable
	case configstore.Internal:
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
