package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/theoremus-urban-solutions/transit-departures/config"
)

var removeCmd = &cobra.Command{
	Use:   "remove <station>",
	Short: "Remove a configured station",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(true)
		if err != nil {
			return err
		}
		s, ok := resolveConfigured(a.cfg, args[0])
		if !ok {
			return fmt.Errorf("station %q is not configured", args[0])
		}

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			if err := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Remove %s (%s) and all its entities?", s.Name, s.ID)).
					Value(&yes),
			)).WithTheme(theme()).Run(); err != nil {
				return err
			}
		}
		if !yes {
			return nil
		}

		a.cfg.RemoveStation(s.ID)
		if err := config.Save(a.cfgPath, a.cfg); err != nil {
			return err
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("✓ Removed %s from %s", s.Name, a.cfgPath)))
		announceReload(cmd.Context(), a.cfg.Server.Port)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
	removeCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
}
