package notifications

import (
	"strings"
	"testing"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

func TestBuildEmailEnvelope(t *testing.T) {
	plan := store.Plan{SiteTitle: "Helsinki Climate Watch", PrimaryLanguage: "en"}
	base := store.BaseTemplate{ID: "basetmpl_1", FromName: "City of Helsinki", FromAddress: "watch@hel.fi", ReplyTo: "climate@hel.fi"}
	tmpl := store.NotificationTemplate{ID: "ntmpl_1", Type: store.NotificationTaskLate, Subject: "Task late"}
	group := &Group{Type: store.NotificationTaskLate}

	out, err := BuildEmail(plan, base, tmpl, nil, group)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if out.Subject != "Task late | Helsinki Climate Watch" {
		t.Errorf("subject = %q", out.Subject)
	}
	if out.From != "watch@hel.fi" || out.FromName != "City of Helsinki" || out.ReplyTo != "climate@hel.fi" {
		t.Errorf("envelope = %+v", out)
	}

	// Template-level sender wins over the base.
	tmpl.FromAddress = "deadlines@hel.fi"
	out, _ = BuildEmail(plan, base, tmpl, nil, group)
	if out.From != "deadlines@hel.fi" {
		t.Errorf("from = %q, want template override", out.From)
	}

	// Without base-level values the defaults step in.
	out, _ = BuildEmail(plan, store.BaseTemplate{}, store.NotificationTemplate{Subject: "Task late"}, nil, group)
	if out.From != DefaultFromAddress || out.FromName != DefaultFromName {
		t.Errorf("defaults not applied: %+v", out)
	}
}

func TestBuildEmailUsesPlanLanguage(t *testing.T) {
	action := activeAction()
	task := store.ActionTask{ID: "task_1", Name: "Kysely"}
	group := &Group{
		Type: store.NotificationTaskLate,
		Items: []*Intent{{
			Type: store.NotificationTaskLate, DaysLate: 3, Action: &action, Task: &task,
		}},
	}
	plan := store.Plan{SiteTitle: "Ilmastovahti", PrimaryLanguage: "fi"}
	tmpl := store.NotificationTemplate{ID: "ntmpl_1", Subject: "Myöhässä"}

	out, err := BuildEmail(plan, store.BaseTemplate{}, tmpl, nil, group)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(out.MJML, "myöhässä") {
		t.Errorf("body should be in the plan language, got %q", out.MJML)
	}

	plan.PrimaryLanguage = "en"
	out, _ = BuildEmail(plan, store.BaseTemplate{}, tmpl, nil, group)
	if !strings.Contains(out.MJML, "3 days late") {
		t.Errorf("body should be in English, got %q", out.MJML)
	}
}

func TestMergeContentBlocks(t *testing.T) {
	tmplID := "ntmpl_1"
	otherID := "ntmpl_2"
	blocks := []store.ContentBlock{
		{Identifier: "intro", Content: "base intro"},
		{Identifier: "outro", Content: "base outro"},
		{Identifier: "intro", Content: "special intro", TemplateID: &tmplID},
		{Identifier: "outro", Content: "other outro", TemplateID: &otherID},
	}
	merged := mergeContentBlocks(blocks, tmplID)
	if merged["intro"] != "special intro" {
		t.Errorf("intro = %q, want template-scoped override", merged["intro"])
	}
	if merged["outro"] != "base outro" {
		t.Errorf("outro = %q, blocks of other templates must not apply", merged["outro"])
	}
}
