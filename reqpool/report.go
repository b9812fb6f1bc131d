package reqpool

import (
	"fmt"
	"html/template"
	"io"
	"time"
)

// Point in time view of an active request
type RequestView struct {
	Id         string    `json:"id"`
	Multiple   bool      `json:"multiple"`
	Multicast  bool      `json:"multicast"`
	OwnerTask  string    `json:"ownerTask"`
	OwnerId    uint16    `json:"ownerId"`
	TargetTask string    `json:"targetTask"`
	TargetNode string    `json:"targetNode"`
	NodeName   string    `json:"nodeName,omitempty"`
	Started    time.Time `json:"started"`
	LastReply  time.Time `json:"lastReply,omitempty"`
	Replies    uint32    `json:"replies"`
	Expires    time.Time `json:"expires"`
}

// Returns the active requests in id order
func (p *RequestPool) Snapshot() []RequestView {
	views := make([]RequestView, 0, p.idPool.ActiveIdCount())

	for id, found := p.idPool.Next(0, true); found; id, found = p.idPool.Next(id, false) {
		req, _ := p.idPool.Entry(id)
		view := RequestView{
			Id:         id.String(),
			Multiple:   req.WantsMultReplies(),
			Multicast:  req.mcast,
			OwnerTask:  req.task.Handle().String(),
			OwnerId:    req.task.Id(),
			TargetTask: req.taskName.String(),
			TargetNode: req.remNode.String(),
			Started:    req.initTime,
			LastReply:  req.lastUpdate,
			Replies:    req.totalPackets,
			Expires:    req.Expiration(),
		}
		if name, found := p.nodes.NodeName(req.remNode); found {
			view.NodeName = name.String()
		}
		views = append(views, view)
	}

	return views
}

type reportData struct {
	MaxActive int
	Active    int
	Now       time.Time
	Requests  []RequestView
}

var reportTemplate = template.Must(template.New("requests").Funcs(template.FuncMap{"ago": ago}).Parse(`<!DOCTYPE html>
<html>
<head><title>Active Requests</title></head>
<body>
<h2>Request ID Pool</h2>
<p>Max active ids: {{.MaxActive}}</p>
<p>Active ids: {{.Active}}</p>
<table border="1">
<tr><th>Request ID</th><th>Owner</th><th>Target</th><th>Started</th><th>Last Reply</th></tr>
{{- $now := .Now}}
{{- range .Requests}}
<tr>
<td>{{.Id}}{{if .Multiple}} (MLT){{end}}</td>
<td>{{.OwnerTask}} ({{.OwnerId}})</td>
<td>{{.TargetTask}} @ {{if .NodeName}}{{.NodeName}} {{end}}(0x{{.TargetNode}})</td>
<td>{{ago $now .Started}}</td>
<td>{{if .LastReply.IsZero}}never{{else}}{{ago $now .LastReply}}{{end}} ({{.Replies}} replies)</td>
</tr>
{{- end}}
</table>
</body>
</html>
`))

// Formats the time elapsed since t
func ago(now time.Time, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes, %d seconds ago", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%d hours, %d minutes ago", int(d.Hours()), int(d.Minutes())%60)
	}
}

// Writes the html report of the active requests
func (p *RequestPool) GenerateReqReport(w io.Writer) error {
	return reportTemplate.Execute(w, reportData{
		MaxActive: p.idPool.MaxActiveIdCount(),
		Active:    p.idPool.ActiveIdCount(),
		Now:       p.clock.Now(),
		Requests:  p.Snapshot(),
	})
}
