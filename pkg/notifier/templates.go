package notifier

import (
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

// templateSet holds the subject, text and HTML renderings for one direction.
type templateSet struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// templateData is what every template is rendered with.
type templateData struct {
	Location  string
	Level     int
	Value     string
	Station   string
	Direction string
}

var aboveTemplates = templateSet{
	subject: texttemplate.Must(texttemplate.New("above-subject").Parse(
		`AQI in {{.Location}} has crossed above your threshold`)),
	text: texttemplate.Must(texttemplate.New("above-text").Parse(
		`AQI in {{.Location}} has crossed above your threshold of {{.Level}}. It is now {{.Value}}. ` +
			`You will receive another email when it crosses back below.`)),
	html: htmltemplate.Must(htmltemplate.New("above-html").Parse(
		`<p>AQI in <strong>{{.Location}}</strong> has crossed <strong>above</strong> your threshold of {{.Level}}.</p>` +
			`<p>It is now <strong>{{.Value}}</strong>{{if .Station}} (station: {{.Station}}){{end}}.</p>` +
			`<p>You will receive another email when it crosses back below.</p>`)),
}

var belowTemplates = templateSet{
	subject: texttemplate.Must(texttemplate.New("below-subject").Parse(
		`AQI in {{.Location}} has crossed below your threshold`)),
	text: texttemplate.Must(texttemplate.New("below-text").Parse(
		`AQI in {{.Location}} has crossed back below your threshold of {{.Level}}. It is now {{.Value}}. ` +
			`You will receive another email if it crosses above again.`)),
	html: htmltemplate.Must(htmltemplate.New("below-html").Parse(
		`<p>AQI in <strong>{{.Location}}</strong> has crossed back <strong>below</strong> your threshold of {{.Level}}.</p>` +
			`<p>It is now <strong>{{.Value}}</strong>{{if .Station}} (station: {{.Station}}){{end}}.</p>` +
			`<p>You will receive another email if it crosses above again.</p>`)),
}

func (ts templateSet) render(data templateData) (subject, text, html string, err error) {
	var sb, tb, hb strings.Builder
	if err = ts.subject.Execute(&sb, data); err != nil {
		return "", "", "", err
	}
	if err = ts.text.Execute(&tb, data); err != nil {
		return "", "", "", err
	}
	if err = ts.html.Execute(&hb, data); err != nil {
		return "", "", "", err
	}
	return sb.String(), tb.String(), hb.String(), nil
}
