//go:build tinygo || !cgo

package clothaux

import (
	"errors"

	"github.com/soypat/cloth"
)

func ui(sim *cloth.Simulation, cfg UIConfig) error {
	return errors.New("require cgo for UI rendering")
}
