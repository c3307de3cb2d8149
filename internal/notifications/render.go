package notifications

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

// DefaultFromAddress and DefaultFromName are the sender of last resort
// for plans whose base template does not set one. Overridden from
// configuration at startup.
var (
	DefaultFromAddress = "noreply@kausal.tech"
	DefaultFromName    = "Kausal"
)

// RenderedEmail is a fully resolved outbound notification before the
// MJML pass.
type RenderedEmail struct {
	Subject  string
	From     string
	FromName string
	ReplyTo  string
	MJML     string
}

// mergeContentBlocks resolves the block set for one template: blocks
// scoped to the template override base-scoped blocks with the same
// identifier.
func mergeContentBlocks(blocks []store.ContentBlock, templateID string) map[string]string {
	merged := map[string]string{}
	for _, b := range blocks {
		if b.TemplateID == nil {
			merged[b.Identifier] = b.Content
		}
	}
	for _, b := range blocks {
		if b.TemplateID != nil && *b.TemplateID == templateID {
			merged[b.Identifier] = b.Content
		}
	}
	return merged
}

// itemLine renders one queued intent as a list entry in the plan's
// primary language. Notification emails always use the plan language,
// never the recipient's.
func itemLine(intent *Intent, lang string) string {
	fi := lang == "fi"
	switch intent.Type {
	case store.NotificationTaskLate:
		if fi {
			return fmt.Sprintf("Toimenpiteen %s tehtävä \"%s\" on %d päivää myöhässä", intent.Action.Identifier, intent.Task.Name, intent.DaysLate)
		}
		return fmt.Sprintf("Task \"%s\" of action %s is %d days late", intent.Task.Name, intent.Action.Identifier, intent.DaysLate)
	case store.NotificationTaskDueSoon:
		if fi {
			return fmt.Sprintf("Toimenpiteen %s tehtävän \"%s\" määräaikaan on %d päivää", intent.Action.Identifier, intent.Task.Name, intent.DaysLeft)
		}
		return fmt.Sprintf("Task \"%s\" of action %s is due in %d days", intent.Task.Name, intent.Action.Identifier, intent.DaysLeft)
	case store.NotificationIndicatorValuesLate:
		if fi {
			return fmt.Sprintf("Mittarin %s arvojen päivitys on %d päivää myöhässä", intent.Indicator.Name, intent.DaysLate)
		}
		return fmt.Sprintf("Value update for indicator %s is %d days late", intent.Indicator.Name, intent.DaysLate)
	case store.NotificationIndicatorValuesDueSoon:
		if fi {
			return fmt.Sprintf("Mittarin %s arvojen päivitykseen on %d päivää", intent.Indicator.Name, intent.DaysLeft)
		}
		return fmt.Sprintf("Value update for indicator %s is due in %d days", intent.Indicator.Name, intent.DaysLeft)
	case store.NotificationNotEnoughTasks:
		if fi {
			return fmt.Sprintf("Toimenpiteellä %s ei ole tulevia tehtäviä", intent.Action.Identifier)
		}
		return fmt.Sprintf("Action %s has no upcoming tasks", intent.Action.Identifier)
	case store.NotificationActionNotUpdated:
		if fi {
			return fmt.Sprintf("Toimenpidettä %s ei ole päivitetty pitkään aikaan", intent.Action.Identifier)
		}
		return fmt.Sprintf("Action %s has not been updated for a while", intent.Action.Identifier)
	case store.NotificationUserFeedbackReceived:
		if fi {
			return "Sivustolle on saapunut uutta palautetta"
		}
		return "New feedback has been received on the site"
	}
	return string(intent.Type)
}

var emailTemplate = template.Must(template.New("notification").Parse(`<mjml>
  <mj-body background-color="#f4f4f4">
    <mj-section background-color="{{.BrandColor}}">
      <mj-column>
        {{if .LogoURL}}<mj-image src="{{.LogoURL}}" alt="{{.SiteTitle}}" width="160px" />{{else}}<mj-text color="#ffffff" font-size="20px">{{.SiteTitle}}</mj-text>{{end}}
      </mj-column>
    </mj-section>
    <mj-section background-color="#ffffff">
      <mj-column>
        {{if .Intro}}<mj-text>{{.Intro}}</mj-text>{{end}}
        {{range .Items}}<mj-text>• {{.}}</mj-text>
        {{end}}
        {{if .Outro}}<mj-text>{{.Outro}}</mj-text>{{end}}
      </mj-column>
    </mj-section>
  </mj-body>
</mjml>
`))

type emailContext struct {
	SiteTitle  string
	BrandColor string
	LogoURL    string
	Intro      string
	Outro      string
	Items      []string
}

// BuildEmail resolves envelope and MJML body for one queued group.
func BuildEmail(plan store.Plan, base store.BaseTemplate, tmpl store.NotificationTemplate, blocks []store.ContentBlock, group *Group) (RenderedEmail, error) {
	out := RenderedEmail{
		Subject:  tmpl.Subject + " | " + plan.SiteTitle,
		From:     DefaultFromAddress,
		FromName: DefaultFromName,
		ReplyTo:  base.ReplyTo,
	}
	if base.FromAddress != "" {
		out.From = base.FromAddress
	}
	if tmpl.FromAddress != "" {
		out.From = tmpl.FromAddress
	}
	if base.FromName != "" {
		out.FromName = base.FromName
	}

	merged := mergeContentBlocks(blocks, tmpl.ID)
	brand := base.BrandDarkColor
	if brand == "" {
		brand = "#007bff"
	}
	ctx := emailContext{
		SiteTitle:  plan.SiteTitle,
		BrandColor: brand,
		LogoURL:    base.LogoURL,
		Intro:      merged["intro"],
		Outro:      merged["outro"],
	}
	for _, item := range group.Items {
		ctx.Items = append(ctx.Items, itemLine(item, plan.PrimaryLanguage))
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, ctx); err != nil {
		return RenderedEmail{}, fmt.Errorf("render notification body: %w", err)
	}
	out.MJML = buf.String()
	return out, nil
}
