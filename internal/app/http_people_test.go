package app

import (
	"context"
	"net/http"
	"testing"
)

func TestSetWorkflowRoleAsSuperuser(t *testing.T) {
	var gotPersonID, gotPlanID, gotRole string
	fs := superuserStore()
	fs.setWorkflowRoleFn = func(ctx context.Context, personID, planID, role string) error {
		gotPersonID, gotPlanID, gotRole = personID, planID, role
		return nil
	}
	server := newTestServer(fs)

	body := `{"planId":"plan_1","role":"moderator"}`
	rr, _ := doRequest(server, authedRequest(t, http.MethodPut, "/v1/people/person_2/workflow_role", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotPersonID != "person_2" || gotPlanID != "plan_1" || gotRole != "moderator" {
		t.Errorf("stored assignment person=%q plan=%q role=%q", gotPersonID, gotPlanID, gotRole)
	}
}

func TestSetWorkflowRoleUnknownRole(t *testing.T) {
	server := newTestServer(superuserStore())

	body := `{"planId":"plan_1","role":"supervisor"}`
	rr, payload := doRequest(server, authedRequest(t, http.MethodPut, "/v1/people/person_2/workflow_role", body))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if payload["code"] != "validation_error" {
		t.Errorf("expected validation_error, got %v", payload["code"])
	}
}

func TestSetWorkflowRoleForbiddenForContactPerson(t *testing.T) {
	fs := contactStore()
	fs.setWorkflowRoleFn = func(ctx context.Context, personID, planID, role string) error {
		t.Error("contact person must not reach the store")
		return nil
	}
	server := newTestServer(fs)

	body := `{"planId":"plan_1","role":"editor"}`
	rr, _ := doRequest(server, authedRequestAs(t, "user_2", http.MethodPut, "/v1/people/person_2/workflow_role", body))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}
