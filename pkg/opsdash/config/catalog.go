// Package config loads the module catalog and the process settings.
//
// The catalog is a directory of YAML files, one per dashboard by convention.
// Each file has three sections:
//
//	dashboard:   the page, trigger route and journal file
//	defaults:    module fields applied wherever a module leaves them empty
//	modules:     the module definitions, in display order
//
// With no directory the catalog embedded in the binary is used.
package config

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vpbank/opsdash/models"
)

//go:embed catalog/*.yaml
var embedded embed.FS

// ─────────────────────────────────────────────────────────────────────────────
// Catalog
// ─────────────────────────────────────────────────────────────────────────────

// Catalog is every dashboard and module definition, in load order.
type Catalog struct {
	Dashboards []models.DashboardDef
	Modules    []models.ModuleDef
}

// File is the layout of one catalog YAML file.
type File struct {
	Dashboard models.DashboardDef `yaml:"dashboard"`
	Defaults  models.ModuleDef    `yaml:"defaults"`
	Modules   []models.ModuleDef  `yaml:"modules"`
}

// LoadCatalog reads every YAML file under dir. An empty dir loads the
// embedded catalog.
func LoadCatalog(dir string, logger *slog.Logger) (*Catalog, error) {
	if dir == "" {
		sub, err := fs.Sub(embedded, "catalog")
		if err != nil {
			return nil, fmt.Errorf("config: embedded catalog: %w", err)
		}
		return LoadCatalogFS(sub, logger)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("config: catalog dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config: catalog dir %s is not a directory", dir)
	}
	return LoadCatalogFS(os.DirFS(dir), logger)
}

// LoadCatalogFS reads every YAML file in fsys. Errors from individual files
// are accumulated and returned together so that operators see all problems
// at once.
func LoadCatalogFS(fsys fs.FS, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	paths, err := yamlFiles(fsys)
	if err != nil {
		return nil, fmt.Errorf("config: walk catalog: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("config: catalog has no YAML files")
	}

	var (
		errs   []string
		cat    Catalog
		byName = map[string]int{}
	)
	for _, p := range paths {
		var f File
		if err := decodeFile(fsys, p, &f); err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug("config: skipping empty catalog file", "file", p)
				continue
			}
			errs = append(errs, fmt.Sprintf("%s: %v", p, err))
			continue
		}

		d := withDashboardDefaults(f.Dashboard)
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("%s: dashboard.name is required", p))
			continue
		}
		if i, ok := byName[d.Name]; ok {
			merged, err := mergeDashboard(cat.Dashboards[i], f.Dashboard)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", p, err))
				continue
			}
			cat.Dashboards[i] = merged
		} else {
			byName[d.Name] = len(cat.Dashboards)
			cat.Dashboards = append(cat.Dashboards, d)
		}

		for _, m := range f.Modules {
			if m.Dashboard == "" {
				m.Dashboard = d.Name
			}
			cat.Modules = append(cat.Modules, withDefaults(m, f.Defaults))
		}
		logger.Debug("config: loaded catalog file", "file", p, "dashboard", d.Name, "modules", len(f.Modules))
	}

	if err := checkRoutes(cat.Dashboards); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %d error(s):\n  %s", len(errs), strings.Join(errs, "\n  "))
	}

	logger.Info("config: catalog loaded", "dashboards", len(cat.Dashboards), "modules", len(cat.Modules))
	return &cat, nil
}

// Filter returns a catalog holding only the named dashboards and their
// modules. No names returns c unchanged.
func (c *Catalog) Filter(names []string) (*Catalog, error) {
	if len(names) == 0 {
		return c, nil
	}
	var missing []string
	for _, n := range names {
		if !slices.ContainsFunc(c.Dashboards, func(d models.DashboardDef) bool { return d.Name == n }) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: unknown dashboard(s): %s", strings.Join(missing, ", "))
	}

	out := &Catalog{}
	for _, d := range c.Dashboards {
		if slices.Contains(names, d.Name) {
			out.Dashboards = append(out.Dashboards, d)
		}
	}
	for _, m := range c.Modules {
		if slices.Contains(names, m.Dashboard) {
			out.Modules = append(out.Modules, m)
		}
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Defaults
// ─────────────────────────────────────────────────────────────────────────────

func withDashboardDefaults(d models.DashboardDef) models.DashboardDef {
	if d.Name == "" {
		return d
	}
	if d.Title == "" {
		d.Title = d.Name
	}
	if d.Route == "" {
		d.Route = "/" + d.Name
	}
	if d.TriggerRoute == "" {
		d.TriggerRoute = "/trigger_" + d.Name
	}
	if d.LogFile == "" {
		d.LogFile = d.Name + ".log"
	}
	return d
}

// mergeDashboard fills the empty fields of have from a later file's block.
// A field set differently in both is a conflict.
func mergeDashboard(have, next models.DashboardDef) (models.DashboardDef, error) {
	fields := []struct {
		name string
		dst  *string
		src  string
	}{
		{"title", &have.Title, next.Title},
		{"route", &have.Route, next.Route},
		{"trigger_route", &have.TriggerRoute, next.TriggerRoute},
		{"sink", &have.Sink, next.Sink},
		{"log_file", &have.LogFile, next.LogFile},
	}
	for _, f := range fields {
		switch {
		case f.src == "" || f.src == *f.dst:
		case *f.dst == "":
			*f.dst = f.src
		default:
			return have, fmt.Errorf("dashboard %s: conflicting %s %q and %q", have.Name, f.name, *f.dst, f.src)
		}
	}
	return have, nil
}

// withDefaults fills the empty scalar fields of m from def.
func withDefaults(m, def models.ModuleDef) models.ModuleDef {
	if m.Kind == "" {
		m.Kind = def.Kind
	}
	if m.Interval == 0 {
		m.Interval = def.Interval
	}
	if m.Capacity == 0 {
		m.Capacity = def.Capacity
	}
	if m.InitialStatus == "" {
		m.InitialStatus = def.InitialStatus
	}
	if m.InitialDetails == "" {
		m.InitialDetails = def.InitialDetails
	}
	if m.InitialInsight == "" {
		m.InitialInsight = def.InitialInsight
	}
	if m.System == "" {
		m.System = def.System
	}
	return m
}

func checkRoutes(ds []models.DashboardDef) error {
	seen := map[string]string{}
	var errs []string
	for _, d := range ds {
		for _, r := range []string{d.Route, d.TriggerRoute} {
			if !strings.HasPrefix(r, "/") {
				errs = append(errs, fmt.Sprintf("dashboard %s: route %q must start with /", d.Name, r))
				continue
			}
			if other, ok := seen[r]; ok {
				errs = append(errs, fmt.Sprintf("dashboard %s: route %s already used by %s", d.Name, r, other))
				continue
			}
			seen[r] = d.Name
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "\n  "))
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// File helpers
// ─────────────────────────────────────────────────────────────────────────────

// yamlFiles returns every .yml / .yaml file under fsys in lexical order.
func yamlFiles(fsys fs.FS) ([]string, error) {
	var paths []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(path.Ext(p))
		if ext == ".yml" || ext == ".yaml" {
			paths = append(paths, p)
		}
		return nil
	})
	return paths, err
}

// decodeFile opens name in fsys and unmarshals the YAML content into out.
func decodeFile(fsys fs.FS, name string, out interface{}) error {
	f, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	return dec.Decode(out)
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
