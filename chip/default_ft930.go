//go:build ft930

package chip

// Default is the variant the module is built for.
const Default = FT930
