package domain

import (
	"fmt"

	"github.com/broadbandx/billing/pkg/errdefs"
)

var (
	ErrNotFound       = fmt.Errorf("%w: plan", errdefs.ErrNotFound)
	ErrInvalidCode    = fmt.Errorf("%w: invalid_plan_code", errdefs.ErrValidation)
	ErrInvalidPrice   = fmt.Errorf("%w: invalid_plan_price", errdefs.ErrValidation)
	ErrAlreadyRetired = fmt.Errorf("%w: plan_already_retired", errdefs.ErrStateConflict)
)
