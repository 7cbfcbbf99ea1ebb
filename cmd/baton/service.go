package main

import (
	"fmt"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// daemonProgram satisfies service.Interface so a service handle can be
// built. The installed unit execs `baton start` directly, so the manager
// never drives the binary through these hooks.
type daemonProgram struct{}

func (daemonProgram) Start(service.Service) error { return nil }
func (daemonProgram) Stop(service.Service) error  { return nil }

func newServiceHandle(cfgPath, dataDir string) (service.Service, error) {
	args := []string{"start"}
	if cfgPath != "" {
		abs, err := filepath.Abs(cfgPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}
	if dataDir != "" {
		abs, err := filepath.Abs(dataDir)
		if err != nil {
			return nil, err
		}
		args = append(args, "--data-dir", abs)
	}
	return service.New(daemonProgram{}, &service.Config{
		Name:        "baton",
		DisplayName: "Baton Scheduled Runner",
		Description: "Runs scheduled jobs and keeps their login sessions alive between runs.",
		Arguments:   args,
	})
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage baton as a system service",
	}
	cmd.AddCommand(
		serviceInstallCmd(),
		serviceActionCmd("uninstall", "Remove the baton system service",
			func(s service.Service) error { return s.Uninstall() }),
		serviceActionCmd("start", "Start the installed baton service",
			func(s service.Service) error { return s.Start() }),
		serviceActionCmd("stop", "Stop the installed baton service",
			func(s service.Service) error { return s.Stop() }),
	)
	return cmd
}

func serviceInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install baton as a system service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, dataDir := configFlags(cmd)

			// Validate before installing; a unit that immediately crash
			// loops on a config typo helps nobody.
			if _, _, err := loadConfig(cfgPath, dataDir); err != nil {
				return err
			}

			svc, err := newServiceHandle(cfgPath, dataDir)
			if err != nil {
				return err
			}
			if err := svc.Install(); err != nil {
				return err
			}
			fmt.Printf("Service installed (%s). Credential variables must be set in the\n", svc.Platform())
			fmt.Println("service environment, not on the command line.")
			return nil
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func serviceActionCmd(name, short string, action func(service.Service) error) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(_ *cobra.Command, _ []string) error {
			svc, err := newServiceHandle("", "")
			if err != nil {
				return err
			}
			if err := action(svc); err != nil {
				return err
			}
			fmt.Printf("Service %s: done.\n", name)
			return nil
		},
	}
}
