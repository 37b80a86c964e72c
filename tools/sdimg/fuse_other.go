//go:build !(linux || darwin)

package sdimg

import "errors"

func mount(s *slot, dir string) error {
	return errors.New("mount is not supported on this platform")
}
