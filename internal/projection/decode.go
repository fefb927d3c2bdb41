package projection

import (
	"fmt"

	"github.com/jmehdipour/messageboard/internal/board"
	"github.com/jmehdipour/messageboard/internal/model"
)

// decode reads a board event into the variant its route expects.
func decode[T board.Payload](ev model.Event) (T, error) {
	var zero T
	p, err := board.Decode(ev.Type, ev.Payload)
	if err != nil {
		return zero, err
	}
	v, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s decoded as %T", model.ErrIntegrity, ev.Type, p)
	}
	return v, nil
}
