package digest

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/ErlanBelekov/daybrief/internal/domain"
)

// Subject renders the email subject for one occurrence. localNow must
// already be in the user's zone so the date reads like their calendar.
func Subject(sched domain.DigestSchedule, localNow time.Time) string {
	return fmt.Sprintf("%s — %s", sched.Name, localNow.Format("Monday, Jan 2"))
}

var bodyTmpl = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
	<h2>{{.Subject}}</h2>
	{{if .Summary}}<p>{{.Summary}}</p>{{end}}
	{{if .Items}}
	<ul>
		{{range .Items}}
		<li style="margin-bottom: 12px;">
			<a href="{{.URL}}">{{.Title}}</a>
			<br><small>{{.Source}}{{if .Summary}} — {{.Summary}}{{end}}</small>
		</li>
		{{end}}
	</ul>
	{{else}}
	<p>Nothing new on {{.TopicList}} today. See you at the next one.</p>
	{{end}}
	<p style="color: #888; font-size: 12px;">You are receiving this because you scheduled a daybrief digest.</p>
</body>
</html>`))

// RenderHTML renders the digest email body.
func RenderHTML(d *domain.Digest) (string, error) {
	data := struct {
		Subject   string
		Summary   string
		Items     []domain.DigestItem
		TopicList string
	}{
		Subject:   d.Subject,
		Summary:   d.Summary,
		Items:     d.Items,
		TopicList: strings.Join(d.Topics, ", "),
	}
	var sb strings.Builder
	if err := bodyTmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("execute digest template: %w", err)
	}
	return sb.String(), nil
}
