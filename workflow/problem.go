package workflow

import (
	"net/http"

	"github.com/moogar0880/problems"
	"github.com/pkg/errors"
)

// Problem RFC 7807, client 轴的非法状态变化带上 current_status 和 attempted_status
type Problem struct {
	*problems.Problem
	CurrentStatus   string `json:"current_status,omitempty"`
	AttemptedStatus string `json:"attempted_status,omitempty"`
}

// ProblemFromError 接口层用, 把引擎的错误翻译成 http 状态
func ProblemFromError(err error) *Problem {
	var clientErr *InvalidClientStatusChangeError
	switch {
	case errors.As(err, &clientErr):
		data := clientErr.ErrorData()
		return &Problem{
			Problem: problems.NewStatusProblem(http.StatusBadRequest).
				WithType("invalid_status_change").
				WithDetail(err.Error()),
			CurrentStatus:   data["current_status"].(string),
			AttemptedStatus: data["attempted_status"].(string),
		}
	case errors.Is(err, ErrInvalidStatusChange):
		return newProblem(http.StatusBadRequest, "invalid_status_change", err)
	case errors.Is(err, ErrWorkflowParamInvalid):
		return newProblem(http.StatusBadRequest, "validation_error", err)
	case errors.Is(err, ErrNodeDeactivated):
		return newProblem(http.StatusBadRequest, "node_deactivated", err)
	case errors.Is(err, ErrStaleStatusChange):
		return newProblem(http.StatusConflict, "stale_status_change", err)
	case errors.Is(err, ErrWorkflowNotFound), errors.Is(err, ErrNodeNotFound),
		errors.Is(err, ErrEventTypeNotFound), errors.Is(err, ErrNodeTypeNotFound):
		return newProblem(http.StatusNotFound, "not_found", err)
	}
	return &Problem{
		Problem: problems.NewStatusProblem(http.StatusInternalServerError).
			WithType("internal_error").
			WithError(err),
	}
}

func newProblem(status int, problemType string, err error) *Problem {
	return &Problem{
		Problem: problems.NewStatusProblem(status).
			WithType(problemType).
			WithDetail(err.Error()),
	}
}
