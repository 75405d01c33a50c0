package planning

import (
	"fmt"
	"strings"
	"time"
)

// progressMarker identifies the bot-authored progress comment across
// process restarts, so a resumed task finds and edits the same comment
// instead of posting a duplicate (spec.md §4.6: "any previously-existing
// bot-authored progress comment ... is updated; otherwise a new one is
// created once").
const progressMarker = "# 🤖 Task Execution Progress"

// checklistItem is one rendered line under the "🎯 Checklist" heading.
type checklistItem struct {
	ID     string
	Label  string
	Done   bool
	Extra  string // e.g. "Additional Work" section marker
}

// historyEntry is one rendered line under the collapsed "📝 History"
// details block.
type historyEntry struct {
	At    time.Time
	Title string
	Body  string
}

// progressComment accumulates the live state rendered into the single
// progress comment edited in place for the life of a task.
type progressComment struct {
	CommentID   string
	StartedAt   time.Time
	Phase       Phase
	Status      string
	LatestComment string
	LLMCalls    int
	Checklist   []checklistItem
	History     []historyEntry
}

// IsBotComment reports whether body was authored by this progress-comment
// contract, identified by its marker header.
func IsBotComment(body string) bool {
	return strings.HasPrefix(strings.TrimSpace(body), progressMarker)
}

// setCheckbox marks the named checklist entry done, a no-op if absent.
func (p *progressComment) setCheckbox(id string, done bool) {
	for i := range p.Checklist {
		if p.Checklist[i].ID == id {
			p.Checklist[i].Done = done
			return
		}
	}
}

// addAction appends a new checklist line, used when verification's
// additional_actions expand the plan (spec.md §4.6 Phase VI: "updating
// the checklist to show an 'Additional Work' section").
func (p *progressComment) addAction(id, label, section string) {
	p.Checklist = append(p.Checklist, checklistItem{ID: id, Label: label, Extra: section})
}

func (p *progressComment) addHistory(title, body string) {
	p.History = append(p.History, historyEntry{At: time.Now().UTC(), Title: title, Body: body})
}

// render produces the exact markdown shape from spec.md §6's progress
// comment format.
func (p *progressComment) render(now time.Time) string {
	var b strings.Builder

	done := 0
	for _, item := range p.Checklist {
		if item.Done {
			done++
		}
	}

	latest := p.LatestComment
	if latest == "" {
		latest = "none"
	}

	fmt.Fprintf(&b, "%s\n", progressMarker)
	b.WriteString("## 📊 Status\n")
	fmt.Fprintf(&b, "- Phase: %s\n", p.Phase)
	fmt.Fprintf(&b, "- Status: %s\n", p.Status)
	fmt.Fprintf(&b, "- Latest comment: %s\n", latest)
	fmt.Fprintf(&b, "- Progress: %d/%d actions\n", done, len(p.Checklist))
	fmt.Fprintf(&b, "- LLM calls: %d\n", p.LLMCalls)
	b.WriteString("## 🎯 Checklist\n")

	var currentSection string
	for _, item := range p.Checklist {
		if item.Extra != "" && item.Extra != currentSection {
			currentSection = item.Extra
			fmt.Fprintf(&b, "### %s\n", currentSection)
		}
		mark := " "
		if item.Done {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] **%s**: %s\n", mark, item.ID, item.Label)
	}

	b.WriteString("## 📝 History (collapsed)\n")
	b.WriteString("<details><summary>Details</summary>\n\n")
	for _, h := range p.History {
		fmt.Fprintf(&b, "### [%s] %s\n%s\n\n", h.At.Format("15:04:05"), h.Title, h.Body)
	}
	b.WriteString("</details>\n\n")
	fmt.Fprintf(&b, "---\n*started: %s | updated: %s*\n", p.StartedAt.Format(time.RFC3339), now.Format(time.RFC3339))

	return b.String()
}
