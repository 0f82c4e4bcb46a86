package simhal

import "github.com/barnettlynn/secbootloader/pkg/bootcore"

// FixedStraps is a strap reading fixed at construction, standing in for
// the physical jumpers a host process has no way to sample.
type FixedStraps struct {
	Mode bootcore.Mode
}

func (s FixedStraps) Configure() {}

func (s FixedStraps) Read() bootcore.Mode {
	return s.Mode
}
