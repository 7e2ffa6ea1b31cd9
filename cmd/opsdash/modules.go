package main

import (
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vpbank/opsdash/models"
	"github.com/vpbank/opsdash/pkg/opsdash/config"
)

func modulesCmd(v *viper.Viper, load loadFunc) *cobra.Command {
	var dashboard string

	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List the catalog modules",
		Long: `modules loads the catalog and prints every module with its dashboard, kind,
polling interval and stream route.

Examples:
  opsdash modules
  opsdash modules --dashboard self_healing
  opsdash modules --catalog ./catalog`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd.Flags(), map[string]string{"catalog.dir": "catalog"})
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, logger, err := load()
			if err != nil {
				return err
			}
			cat, err := config.LoadCatalog(settings.Catalog.Dir, logger)
			if err != nil {
				return err
			}
			if dashboard != "" {
				if cat, err = cat.Filter([]string{dashboard}); err != nil {
					return err
				}
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"ID", "Dashboard", "Kind", "Interval", "Stream"})
			table.SetAutoWrapText(false)
			for _, m := range cat.Modules {
				table.Append(moduleRow(m))
			}
			table.SetFooter([]string{"", "", "", "Total", strconv.Itoa(len(cat.Modules))})
			table.Render()
			return nil
		},
	}

	f := cmd.Flags()
	f.String("catalog", "", "Catalog directory (default: embedded catalog)")
	f.StringVar(&dashboard, "dashboard", "", "Only list modules of this dashboard")
	return cmd
}

func moduleRow(m models.ModuleDef) []string {
	interval := "-"
	if m.Kind != models.KindSink {
		interval = m.Interval.String()
	}
	return []string{m.ID, m.Dashboard, m.Kind, interval, "/" + m.ID + "_stream"}
}
