package report

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"
)

//go:embed templates/report.html
var templateFS embed.FS

var htmlTemplate = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"ts":      formatTime,
	"tsp":     formatTimePtr,
	"orDash":  orDash,
	"percent": percent,
}).ParseFS(templateFS, "templates/report.html"))

const timeLayout = "2006-01-02 15:04:05"

// Filename is the download name for an HTML rendering of r.
func Filename(r Report) string {
	return fmt.Sprintf("vm_system_report_%s.html", r.GeneratedAt.Format("2006-01-02_15-04-05"))
}

func RenderHTML(w io.Writer, r Report) error {
	if err := htmlTemplate.Execute(w, r); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}

func RenderText(w io.Writer, r Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "VM system report\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", formatTime(r.GeneratedAt))

	fmt.Fprintf(&b, "Stations: %d\n", r.StationsTotal)
	for _, sc := range r.StationsByState {
		fmt.Fprintf(&b, "  %-10s %d\n", sc.State, sc.Count)
	}

	fmt.Fprintf(&b, "\nLeases: active %d, inactive %d\n", r.ActiveLeases, r.InactiveLeases)
	fmt.Fprintf(&b, "Users: %d total, %d admins, %d regular\n", r.Users.Total, r.Users.Admins, r.RegularUsers())

	fmt.Fprintf(&b, "\nRecent leases:\n")
	if len(r.RecentLeases) == 0 {
		fmt.Fprintf(&b, "  none\n")
	}
	for _, l := range r.RecentLeases {
		status := "released " + formatTimePtr(l.ReleasedAt)
		if l.Active {
			status = "active"
		}
		fmt.Fprintf(&b, "  #%d %s -> station %d (%s) at %s, %s\n",
			l.ID, l.Username, l.StationID, l.StationIP, formatTime(l.CreatedAt), status)
	}

	fmt.Fprintf(&b, "\nStation usage:\n")
	for _, s := range r.Stations {
		fmt.Fprintf(&b, "  #%d %s:%d %-10s %s %s\n",
			s.StationID, s.IP, s.Port, s.State, orDash(s.Username), formatTimePtr(s.AssignedAt))
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func percent(part, total int64) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(part)*100/float64(total))
}
