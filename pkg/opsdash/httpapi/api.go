package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vpbank/opsdash/models"
	"github.com/vpbank/opsdash/pkg/opsdash/registry"
)

// ModuleDetail is a snapshot together with the module's retained lines.
type ModuleDetail struct {
	models.Snapshot
	Stream []string `json:"stream"`
	Logs   []string `json:"logs"`
}

func (s *Server) listModules(c *gin.Context) {
	all := s.cfg.Registry.All()
	out := make([]models.Snapshot, 0, len(all))
	for _, m := range all {
		out = append(out, m.Snapshot())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getModule(c *gin.Context) {
	m, err := s.cfg.Registry.Get(c.Param("id"))
	if errors.Is(err, registry.ErrUnknownModule) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Unknown module"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ModuleDetail{
		Snapshot: m.Snapshot(),
		Stream:   nonNil(m.Stream().Snapshot()),
		Logs:     nonNil(m.Logs()),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
