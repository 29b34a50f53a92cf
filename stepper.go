package cloth

import "errors"

// FixedStepper decouples simulation rate from frame rate. Frame times are accumulated and
// consumed in fixed TimeStep sized steps.
type FixedStepper struct {
	Sim      *Simulation
	TimeStep float32
	// MaxSubsteps caps the amount of steps per call to Advance. When reached the remaining
	// backlog is dropped so a slow frame does not snowball. Zero means no cap.
	MaxSubsteps int
	acc         float32
}

// Advance adds frameTime to the accumulator and runs as many fixed steps as fit in it.
// It returns the number of steps taken.
func (fs *FixedStepper) Advance(frameTime float32) (int, error) {
	if fs.Sim == nil {
		return 0, errNilSimulation
	} else if fs.TimeStep <= 0 || !finitef(fs.TimeStep) {
		return 0, errors.New("invalid fixed time step")
	}
	if frameTime > 0 && finitef(frameTime) {
		fs.acc += frameTime
	}
	n := 0
	for fs.acc >= fs.TimeStep {
		if fs.MaxSubsteps > 0 && n == fs.MaxSubsteps {
			fs.acc = 0
			break
		}
		err := fs.Sim.Step(fs.TimeStep)
		if err != nil {
			return n, err
		}
		fs.acc -= fs.TimeStep
		n++
	}
	return n, nil
}

// Pending returns the accumulated time not yet simulated.
func (fs *FixedStepper) Pending() float32 { return fs.acc }

// Reset discards the accumulated time not yet simulated.
func (fs *FixedStepper) Reset() { fs.acc = 0 }
