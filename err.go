package embedpop

import (
	"fmt"

	"github.com/embedpop/embedpop/pkg/constants"
)

// NotFoundError is returned by FindOneOrFail and Delete when no entity has the id.
// It matches constants.ErrNotFound with errors.Is.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found (%s)", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == constants.ErrNotFound
}
