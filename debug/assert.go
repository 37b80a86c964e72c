//go:build debug

package debug

// Guard more complex assertions (i.e. anything that could panic) with `if
// debug.Enabled{...}`, otherwise they can't be removed in release builds.
const Enabled = true

func Assert(b bool, message string) {
	if !b {
		panic(message)
	}
}

func AssertErrNil(err error) {
	if err != nil {
		panic(err)
	}
}

// AssertAligned panics if n is not a multiple of the word size w.
func AssertAligned(n, w int, message string) {
	if n%w != 0 {
		panic(message)
	}
}
