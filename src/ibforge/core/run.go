package core

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitswalk/ibforge/src/ibforge/build"
	"github.com/bitswalk/ibforge/src/ibforge/release"
	"github.com/bitswalk/ibforge/src/ibforge/targets"
)

// runBuild is the root command: one full firmware run
func runBuild(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	opts := build.Options{
		Target:    viper.GetString("target"),
		ReleaseID: viper.GetString("release_branch"),
		Tunnel:    viper.GetString("tunnel"),
		Clean:     viper.GetBool("clean"),
		Squashfs:  viper.GetBool("squashfs"),
		Update:    viper.GetBool("update"),
		Remove:    viper.GetBool("remove"),
		Publish:   viper.GetBool("publish.enabled"),
	}

	// Reject bad input before opening anything
	if _, err := targets.Resolve(opts.Target); err != nil {
		return err
	}
	if _, err := release.Parse(opts.ReleaseID); err != nil {
		return err
	}

	s, err := newSession(cmd.Context(), newExecutor(), opts.Publish)
	if err != nil {
		return err
	}
	defer s.Close()

	sc, err := s.builder.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, a := range sc.Artifacts {
		fmt.Fprintln(out, a.Path)
	}
	fmt.Fprintln(out, sc.ManifestPath)
	log.Info("Build finished",
		"build_id", sc.BuildID,
		"images", len(sc.Artifacts),
		"output", sc.OutputDir,
	)
	return nil
}
