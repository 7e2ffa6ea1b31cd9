package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vpbank/opsdash/models"
)

// pageModule is what the dashboard template needs about one module.
type pageModule struct {
	models.Snapshot
	Stream string
	Lines  []string
}

type pageData struct {
	Dashboard models.DashboardDef
	Modules   []pageModule
	Now       string
}

type indexEntry struct {
	models.DashboardDef
	Modules int
}

func (s *Server) index(c *gin.Context) {
	var entries []indexEntry
	for _, d := range s.cfg.Registry.Dashboards() {
		entries = append(entries, indexEntry{DashboardDef: d, Modules: len(s.cfg.Registry.ByDashboard(d.Name))})
	}
	c.HTML(http.StatusOK, "index.html", gin.H{"Dashboards": entries})
}

// dashboardPage renders one terminal panel per module. Panels start with the
// module's log list; the page script then follows each module's stream.
func (s *Server) dashboardPage(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, ok := s.cfg.Registry.Dashboard(name)
		if !ok {
			c.String(http.StatusNotFound, "unknown dashboard")
			return
		}
		page := pageData{Dashboard: d, Now: s.cfg.Formatter.Stamp(s.cfg.Now())}
		for _, m := range s.cfg.Registry.ByDashboard(name) {
			page.Modules = append(page.Modules, pageModule{
				Snapshot: m.Snapshot(),
				Stream:   "/" + m.ID() + "_stream",
				Lines:    m.Logs(),
			})
		}
		c.HTML(http.StatusOK, "dashboard.html", page)
	}
}
