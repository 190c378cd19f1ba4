package core

import (
	"fmt"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/ibforge/build"
	"github.com/bitswalk/ibforge/src/ibforge/checksum"
	"github.com/bitswalk/ibforge/src/ibforge/db"
	"github.com/bitswalk/ibforge/src/ibforge/download"
	"github.com/bitswalk/ibforge/src/ibforge/output"
	"github.com/bitswalk/ibforge/src/ibforge/targets"
)

const timeLayout = "2006-01-02 15:04:05"

func getOutputFormat() (output.Format, error) {
	return output.ParseFormat(outputFormat)
}

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List supported target devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			format, err := getOutputFormat()
			if err != nil {
				return err
			}

			all := targets.All()
			type targetView struct {
				Name         string `json:"name" yaml:"name"`
				Profile      string `json:"profile" yaml:"profile"`
				TargetSystem string `json:"target_system" yaml:"target_system"`
				TargetName   string `json:"target_name" yaml:"target_name"`
				Arch         string `json:"arch" yaml:"arch"`
				Image        string `json:"image" yaml:"image"`
			}
			views := make([]targetView, len(all))
			for i, t := range all {
				views[i] = targetView{t.DisplayName, t.Profile, t.TargetSystem, t.TargetName, t.Arch.Package, t.ImageKind}
			}

			return output.Print(cmd.OutOrStdout(), format, views, func() {
				rows := make([][]string, len(views))
				for i, v := range views {
					rows[i] = []string{v.Name, v.Profile, v.TargetSystem, v.Arch, v.Image}
				}
				output.PrintTable(cmd.OutOrStdout(), []string{"NAME", "PROFILE", "TARGET", "ARCH", "IMAGE"}, rows)
			})
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [dir]",
		Short: "Check the images of an output directory against its sha256sums",
		Long: `Recomputes the SHA-256 of every file listed in <dir>/sha256sums and
compares it with the recorded digest. The directory defaults to the
compiled_images directory of the current working directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			dir := build.OutputDirName
			if len(args) == 1 {
				dir = args[0]
			}

			results, verifyErr := checksum.Verify(dir)
			out := cmd.OutOrStdout()
			for _, r := range results {
				status := "OK"
				if !r.OK {
					status = "FAILED"
				}
				fmt.Fprintf(out, "%s: %s\n", r.Name, status)
			}
			return verifyErr
		},
	}
}

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the Image Builder archive cache",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached archives, least recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			format, err := getOutputFormat()
			if err != nil {
				return err
			}
			m, closeFn, err := cacheManager()
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := m.List()
			if err != nil {
				return err
			}
			stats, err := m.Stats()
			if err != nil {
				return err
			}

			return output.Print(cmd.OutOrStdout(), format, entries, func() {
				rows := make([][]string, len(entries))
				for i, e := range entries {
					rows[i] = []string{
						e.FileName,
						e.Distro + ":" + e.Branch,
						units.BytesSize(float64(e.SizeBytes)),
						strconv.Itoa(e.UseCount),
						e.LastUsedAt.Local().Format(timeLayout),
					}
				}
				output.PrintTable(cmd.OutOrStdout(), []string{"ARCHIVE", "RELEASE", "SIZE", "USES", "LAST USED"}, rows)
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d archives, %s\n", stats.Entries, units.BytesSize(float64(stats.TotalBytes)))
			})
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete least recently used archives until the cache fits a size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			maxSizeStr, _ := cmd.Flags().GetString("max-size")
			maxSize, err := units.RAMInBytes(maxSizeStr)
			if err != nil || maxSize < 0 {
				return errors.ErrInvalidConfig.WithMessagef("invalid --max-size %q", maxSizeStr)
			}

			m, closeFn, err := cacheManager()
			if err != nil {
				return err
			}
			defer closeFn()

			removed, err := m.Prune(maxSize)
			if err != nil {
				return err
			}
			for _, e := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s (%s)\n", e.FileName, units.BytesSize(float64(e.SizeBytes)))
			}
			log.Info("Cache pruned", "removed", len(removed), "max_size", units.BytesSize(float64(maxSize)))
			return nil
		},
	}
	pruneCmd.Flags().String("max-size", "0", "Largest total cache size to keep, e.g. 2GiB (0 removes everything)")

	cacheCmd.AddCommand(listCmd, pruneCmd)
	return cacheCmd
}

// cacheManager opens a download manager bound to the archive index
func cacheManager() (*download.Manager, func(), error) {
	database, err := requireDatabase()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := downloadConfig()
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	m := download.NewManager(cfg, db.NewArchiveRepository(database))
	return m, func() { database.Close() }, nil
}

func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent builds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			format, err := getOutputFormat()
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			showArtifacts, _ := cmd.Flags().GetBool("artifacts")

			database, err := requireDatabase()
			if err != nil {
				return err
			}
			defer database.Close()
			repo := db.NewBuildRepository(database)

			builds, err := repo.List(limit)
			if err != nil {
				return errors.ErrDatabaseQuery.WithCause(err)
			}

			type buildView struct {
				db.Build  `yaml:",inline"`
				Artifacts []db.BuildArtifact `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
			}
			views := make([]buildView, len(builds))
			for i, b := range builds {
				views[i] = buildView{Build: b}
				if showArtifacts {
					arts, err := repo.ListArtifacts(b.ID)
					if err != nil {
						return errors.ErrDatabaseQuery.WithCause(err)
					}
					views[i].Artifacts = arts
				}
			}

			return output.Print(cmd.OutOrStdout(), format, views, func() {
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					rows = append(rows, []string{
						v.ID[:8],
						v.StartedAt.Local().Format(timeLayout),
						v.Target,
						v.Distro + ":" + v.Branch,
						v.Tunnel,
						string(v.Status),
						buildDuration(v.Build),
					})
					for _, a := range v.Artifacts {
						rows = append(rows, []string{"", "", "  " + a.FileName, "", a.Variant, "", ""})
					}
				}
				output.PrintTable(cmd.OutOrStdout(), []string{"ID", "STARTED", "TARGET", "RELEASE", "TUNNEL", "STATUS", "DURATION"}, rows)
			})
		},
	}
	historyCmd.Flags().IntP("limit", "n", 20, "Number of builds to show (0 for all)")
	historyCmd.Flags().Bool("artifacts", false, "Also list each build's images")
	return historyCmd
}

func buildDuration(b db.Build) string {
	if !b.CompletedAt.Valid {
		return "-"
	}
	return b.CompletedAt.Time.Sub(b.StartedAt).Round(time.Second).String()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := getOutputFormat()
			if err != nil {
				return err
			}
			info := map[string]string{
				"version":         VersionInfo.Version,
				"release_version": VersionInfo.ReleaseVersion,
				"build_date":      VersionInfo.BuildDate,
				"git_commit":      VersionInfo.GitCommit,
			}
			return output.Print(cmd.OutOrStdout(), format, info, func() {
				fmt.Fprintln(cmd.OutOrStdout(), VersionInfo.Full())
			})
		},
	}
}
