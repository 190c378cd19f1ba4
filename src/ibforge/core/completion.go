package core

import (
	"github.com/spf13/cobra"

	"github.com/bitswalk/ibforge/src/ibforge/build"
	"github.com/bitswalk/ibforge/src/ibforge/targets"
)

// completionTargets provides completion for --target flag
func completionTargets(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	all := targets.All()
	suggestions := make([]string, len(all))
	for i, t := range all {
		suggestions[i] = t.DisplayName + "\t" + t.Profile
	}
	return suggestions, cobra.ShellCompDirectiveNoFileComp
}

// completionTunnels provides completion for --tunnel flag
func completionTunnels(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return append([]string{build.AllVariants}, build.KnownVariants()...), cobra.ShellCompDirectiveNoFileComp
}

// completionSwitch provides completion for the true|false flags
func completionSwitch(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"true", "false"}, cobra.ShellCompDirectiveNoFileComp
}

// completionOutputFormat provides completion for --output flag
func completionOutputFormat(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"table", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
}

// registerCompletions wires flag completions on the root command
func registerCompletions(rootCmd *cobra.Command) {
	_ = rootCmd.RegisterFlagCompletionFunc("target", completionTargets)
	_ = rootCmd.RegisterFlagCompletionFunc("tunnel", completionTunnels)
	_ = rootCmd.RegisterFlagCompletionFunc("output", completionOutputFormat)
	for _, name := range []string{"clean", "squashfs", "update", "remove", "publish"} {
		_ = rootCmd.RegisterFlagCompletionFunc(name, completionSwitch)
	}
}
