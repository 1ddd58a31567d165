package workflow

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validatorUtil = validator.New(validator.WithRequiredStructEnabled())

func validateParams(params any) error {
	if err := validatorUtil.Struct(params); err != nil {
		return errors.WithMessagef(ErrWorkflowParamInvalid, "%v", err)
	}
	return nil
}
