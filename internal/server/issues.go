package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"etraxis/internal/domain"
	"etraxis/internal/engine"
)

type issuePath struct {
	IssueID int64 `path:"issue_id" minimum:"1"`
}

type issueOutput struct {
	Body IssueResponse `json:"body"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/issues",
		Summary:       "Create an issue",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest `json:"body"`
	}) (*issueOutput, error) {
		userID, herr := userIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		values, err := fieldValues(input.Body.Values)
		if err != nil {
			return nil, err
		}
		issue, err := e.CreateIssue(ctx, engine.CreateIssueOptions{
			TemplateID:    input.Body.TemplateID,
			Subject:       input.Body.Subject,
			ResponsibleID: input.Body.ResponsibleID,
			Values:        values,
			ActorID:       userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issueResponse(issue)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}",
		Summary:     "Get an issue",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*issueOutput, error) {
		userID, herr := userIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		issue, err := e.Issue(ctx, input.IssueID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issueResponse(issue)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/issues/{issue_id}",
		Summary:     "Edit subject and field values",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		issuePath
		Body UpdateIssueRequest `json:"body"`
	}) (*issueOutput, error) {
		userID, herr := userIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		values, err := fieldValues(input.Body.Values)
		if err != nil {
			return nil, err
		}
		issue, err := e.UpdateIssue(ctx, engine.UpdateIssueOptions{
			IssueID: input.IssueID,
			Subject: input.Body.Subject,
			Values:  values,
			ActorID: userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issueResponse(issue)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issue-permissions",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/permissions",
		Summary:     "List the caller's permissions on an issue",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body []domain.TemplatePermission `json:"body"`
	}, error) {
		userID, herr := userIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		perms, err := e.Permissions(ctx, input.IssueID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TemplatePermission `json:"body"`
		}{Body: perms}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issue-values",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/values",
		Summary:     "List readable field values",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body []FieldValueResponse `json:"body"`
	}, error) {
		userID, herr := userIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		views, err := e.FieldValues(ctx, input.IssueID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []FieldValueResponse `json:"body"`
		}{Body: fieldValueResponses(views)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suspend-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/suspend",
		Summary:     "Suspend an issue until a moment",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		issuePath
		Body SuspendRequest `json:"body"`
	}) (*issueOutput, error) {
		userID, herr := userIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		issue, err := e.Suspend(ctx, input.IssueID, input.Body.Until, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issueResponse(issue)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/resume",
		Summary:     "Resume a suspended issue",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*issueOutput, error) {
		userID, herr := userIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		issue, err := e.Resume(ctx, input.IssueID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issueResponse(issue)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-dependency",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/dependencies",
		Summary:       "Add a dependency",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		issuePath
		Body DependencyRequest `json:"body"`
	}) (*struct{}, error) {
		userID, herr := userIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := e.AddDependency(ctx, input.IssueID, input.Body.DependencyID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-dependency",
		Method:        http.MethodDelete,
		Path:          "/issues/{issue_id}/dependencies/{dependency_id}",
		Summary:       "Remove a dependency",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		issuePath
		DependencyID int64 `path:"dependency_id" minimum:"1"`
	}) (*struct{}, error) {
		userID, herr := userIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := e.RemoveDependency(ctx, input.IssueID, input.DependencyID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerWorkflow(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-transitions",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/transitions",
		Summary:     "List states the caller may move the issue to",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body []StateResponse `json:"body"`
	}, error) {
		userID, herr := userIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		states, err := e.Transitions(ctx, input.IssueID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StateResponse `json:"body"`
		}{Body: stateResponses(states)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-state",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/state",
		Summary:     "Move an issue to another state",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		issuePath
		Body ChangeStateRequest `json:"body"`
	}) (*issueOutput, error) {
		userID, herr := userIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		values, err := fieldValues(input.Body.Values)
		if err != nil {
			return nil, err
		}
		issue, err := e.ChangeState(ctx, engine.ChangeStateOptions{
			IssueID:       input.IssueID,
			StateID:       input.Body.StateID,
			ResponsibleID: input.Body.ResponsibleID,
			Values:        values,
			ActorID:       userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issueResponse(issue)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-responsibles",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/responsibles",
		Summary:     "List users who may become responsible in a state",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		issuePath
		StateID        int64 `query:"state_id" required:"true" minimum:"1"`
		ExcludeCurrent bool  `query:"exclude_current"`
	}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		userID, herr := userIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		users, err := e.Responsibles(ctx, input.IssueID, input.StateID, userID, input.ExcludeCurrent)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: userResponses(users)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/assign",
		Summary:     "Reassign an issue",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		issuePath
		Body ReassignRequest `json:"body"`
	}) (*issueOutput, error) {
		userID, herr := userIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		issue, err := e.Reassign(ctx, input.IssueID, input.Body.ResponsibleID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issueResponse(issue)}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-changes",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/changes",
		Summary:     "List the change history of an issue",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body []ChangeResponse `json:"body"`
	}, error) {
		userID, herr := userIDFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		views, err := e.Changes(ctx, input.IssueID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ChangeResponse `json:"body"`
		}{Body: changeResponses(views)}, nil
	})
}
