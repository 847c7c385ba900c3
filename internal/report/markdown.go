package report

import (
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/darkwatch/internal/model"
)

// MarkdownWriter outputs the summary as Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs r in Markdown.
func (w *MarkdownWriter) Write(r *Run) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, r)
	w.writeForums(md, r)
	w.writeRejections(md, r.Totals)
	w.writeErrors(md, r)
	w.writeStored(md, r.Stored)
	w.writeFooter(md, r)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, r *Run) {
	md.H1("DarkWatch Crawl Summary")
	md.PlainText("")

	rows := [][]string{
		{"Run ID", "`" + r.RunID + "`"},
		{"Started", r.StartedAt.Format("2006-01-02 15:04:05 MST")},
		{"Elapsed", r.Elapsed().Round(time.Second).String()},
		{"Post log", "`" + r.Outputs.PostLog + "`"},
	}
	if r.Outputs.Database != "" {
		rows = append(rows, []string{"Database", "`" + r.Outputs.Database + "`"})
	}
	if r.Outputs.Archive != "" {
		rows = append(rows, []string{"Quarantine archive", "`" + r.Outputs.Archive + "`"})
	}
	md.Table(markdown.TableSet{Header: []string{"Property", "Value"}, Rows: rows})
	md.PlainText("")

	switch {
	case r.Interrupted:
		md.Warning("The run was interrupted. Unfinished forums continue with `darkwatch crawl --resume`.")
	case r.Aborted() > 0:
		md.Cautionf("%d forum(s) aborted after too many consecutive failures.", r.Aborted())
	default:
		md.Tip("Every forum finished.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeForums(md *markdown.Markdown, r *Run) {
	md.H2("Forums")
	md.PlainText("")

	rows := make([][]string, 0, len(r.Forums)+1)
	for _, f := range r.Forums {
		rows = append(rows, counterRow("`"+f.Key+"`", f.Engine, stateText(f), f.Counters))
	}
	rows = append(rows, counterRow("**Total**", "", "", r.Totals))
	md.Table(markdown.TableSet{
		Header: []string{"Forum", "Engine", "State", "Pages", "Posts", "Duplicates", "Indicators", "Quarantined", "Rejected", "Errors"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeRejections(md *markdown.Markdown, c model.Counters) {
	if len(c.AttachmentsRejected) == 0 {
		return
	}
	md.H2("Rejected Attachments")
	md.PlainText("")

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Rejections by reason"),
		piechart.WithShowData(true),
	)
	for _, reason := range sortedKeys(c.AttachmentsRejected) {
		chart.LabelAndIntValue(reason, uint64(c.AttachmentsRejected[reason])) //nolint:gosec // counters are never negative
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeErrors(md *markdown.Markdown, r *Run) {
	if r.Totals.TotalErrors() == 0 {
		return
	}
	md.H2("Errors")
	md.PlainText("")

	rows := make([][]string, 0, len(r.Totals.Errors))
	for _, kind := range sortedKeys(r.Totals.Errors) {
		rows = append(rows, []string{kind, humanize.Comma(int64(r.Totals.Errors[kind]))})
	}
	md.Table(markdown.TableSet{Header: []string{"Kind", "Count"}, Rows: rows})
	md.PlainText("")

	for _, f := range r.Forums {
		if f.AbortReason != "" {
			md.Details(f.Key+" abort reason", f.AbortReason)
		}
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeStored(md *markdown.Markdown, st *Stored) {
	if st == nil {
		return
	}
	md.H2("Database")
	md.PlainText("")
	rows := [][]string{
		{"Posts", humanize.Comma(int64(st.Posts))},
		{"Quarantine records", humanize.Comma(int64(st.Quarantined))},
	}
	for _, kind := range sortedKeys(st.Indicators) {
		rows = append(rows, []string{"Indicators: " + kind, humanize.Comma(int64(st.Indicators[kind]))})
	}
	md.Table(markdown.TableSet{Header: []string{"Record", "Count"}, Rows: rows})
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown, r *Run) {
	md.HorizontalRule()
	md.PlainText("")
	if r.Version != "" {
		md.PlainTextf("*Generated by DarkWatch %s*", r.Version)
		return
	}
	md.PlainText("*Generated by DarkWatch*")
}

func counterRow(name, engine, state string, c model.Counters) []string {
	return []string{
		name,
		engine,
		state,
		humanize.Comma(int64(c.PagesFetched)),
		humanize.Comma(int64(c.PostsExtracted)),
		humanize.Comma(int64(c.PostsDuplicate)),
		humanize.Comma(int64(c.IndicatorsFound)),
		humanize.Comma(int64(c.AttachmentsQuarantined)),
		humanize.Comma(int64(c.TotalRejected())),
		strconv.Itoa(c.TotalErrors()),
	}
}

func stateText(f Forum) string {
	if f.Skipped {
		return string(f.State) + " (skipped)"
	}
	return string(f.State)
}
