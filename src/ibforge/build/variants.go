package build

// AllVariants is the sentinel tunnel value selecting every bundle
const AllVariants = "all"

// DefaultLegacyBranch is the release that only ever builds the requested
// tunnel, even when "all" is asked for
const DefaultLegacyBranch = "21.02.7"

// variantList is the fixed build order for "all"
var variantList = []string{
	"openclash",
	"passwall",
	"nikki",
	"openclash-passwall",
	"nikki-passwall",
	"nikki-openclash",
	"openclash-passwall-nikki",
	"no-tunnel",
}

// KnownVariants returns the tunnel bundles built for "all", in order
func KnownVariants() []string {
	return append([]string(nil), variantList...)
}

// Variants expands a tunnel selection into the ordered list of variants to
// build. "all" expands to every bundle unless branch is the legacy branch,
// in which case the value is passed through as a single variant.
func Variants(tunnel, branch, legacyBranch string) []string {
	if tunnel == AllVariants && branch != legacyBranch {
		return KnownVariants()
	}
	return []string{tunnel}
}
