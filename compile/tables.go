package compile

import (
	"regexp"
	"sort"
	"strings"

	"github.com/richinex/rtg/model"
)

// markdownTable renders rows under headers. No rows renders as "".
func markdownTable(headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	writeRow(&b, headers)
	sep := make([]string, len(headers))
	for i := range sep {
		sep[i] = "---"
	}
	b.WriteByte('\n')
	writeRow(&b, sep)
	for _, row := range rows {
		b.WriteByte('\n')
		writeRow(&b, row)
	}
	return b.String()
}

var cellEscaper = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ")

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" ")
		b.WriteString(cellEscaper.Replace(c))
		b.WriteString(" |")
	}
}

func componentTable(components []model.Component) string {
	rows := make([][]string, 0, len(components))
	for _, c := range components {
		rows = append(rows, []string{c.Name, c.Type})
	}
	return markdownTable([]string{"Name", "Type"}, rows)
}

func threatTable(threats []model.Threat) string {
	rows := make([][]string, 0, len(threats))
	for _, t := range threats {
		rows = append(rows, []string{t.Title, t.Severity})
	}
	return markdownTable([]string{"Title", "Severity"}, rows)
}

func vulnerabilityTable(vulns []model.Vulnerability) string {
	rows := make([][]string, 0, len(vulns))
	for _, v := range vulns {
		rows = append(rows, []string{v.Title, v.Severity})
	}
	return markdownTable([]string{"Title", "Severity"}, rows)
}

// Sorting. All sorts are stable so equal keys keep fetch order.

func sortComponents(cs []model.Component) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })
}

func sortThreats(ts []model.Threat) {
	sort.SliceStable(ts, func(i, j int) bool {
		ri, rj := model.SeverityRank(ts[i].Severity), model.SeverityRank(ts[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return ts[i].Title < ts[j].Title
	})
}

func sortVulnerabilities(vs []model.Vulnerability) {
	sort.SliceStable(vs, func(i, j int) bool {
		ri, rj := model.SeverityRank(vs[i].Severity), model.SeverityRank(vs[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return vs[i].CreatedAt.After(vs[j].CreatedAt)
	})
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lowercases s, collapses non-alphanumeric runs to "-" and caps
// the result at 64 bytes.
func slugify(s string) string {
	s = slugPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	s = strings.Trim(s, "-")
	if len(s) > 64 {
		s = strings.TrimRight(s[:64], "-")
	}
	return s
}
