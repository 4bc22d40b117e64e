package slack

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/utils"
)

// maxSectionText stays under Slack's 3000 character section limit
const maxSectionText = 2900

// FormatNotification renders n as a fallback text and Block Kit blocks
func FormatNotification(n database.Notification) (string, []slack.Block) {
	header := fmt.Sprintf("%s *%s*", getPriorityEmoji(n.Priority), n.Title)
	fallback := utils.TruncateText(fmt.Sprintf("%s: %s", n.Title, n.Message), maxSectionText)

	var body strings.Builder
	body.WriteString(header)
	if n.Message != "" {
		body.WriteString("\n")
		body.WriteString(truncateBlock(n.Message, maxSectionText-len(header)-1))
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, body.String(), false, false), nil, nil),
	}

	fields := []string{
		fmt.Sprintf("*Priority:* %s", strings.ToUpper(string(n.Priority))),
		fmt.Sprintf("*Type:* %s", typeLabel(n.Type)),
	}
	if len(n.Recipients) > 0 {
		fields = append(fields, fmt.Sprintf("*Assigned:* %s", strings.Join(n.Recipients, ", ")))
	}
	blocks = append(blocks, slack.NewContextBlock("", textObjects(fields)...))

	if n.ActionURL != "" {
		btn := slack.NewButtonBlockElement("open_sla", n.SLAUUID,
			slack.NewTextBlockObject(slack.PlainTextType, "Open SLA", false, false))
		btn.URL = n.ActionURL
		blocks = append(blocks, slack.NewActionBlock("sla_actions", btn))
	}
	return fallback, blocks
}

// truncateBlock shortens s keeping its line breaks
func truncateBlock(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return strings.TrimSpace(s[:maxLen-3]) + "..."
}

func textObjects(lines []string) []slack.MixedElement {
	out := make([]slack.MixedElement, len(lines))
	for i, l := range lines {
		out[i] = slack.NewTextBlockObject(slack.MarkdownType, l, false, false)
	}
	return out
}

func typeLabel(t string) string {
	switch t {
	case "sla_warning":
		return "Warning"
	case "sla_critical":
		return "Critical"
	case "sla_breach":
		return "Breach"
	case "sla_escalation":
		return "Escalation"
	default:
		return t
	}
}

// getPriorityEmoji returns an emoji for the given priority
func getPriorityEmoji(p database.NotificationPriority) string {
	switch p {
	case database.NotificationPriorityUrgent:
		return "🔴"
	case database.NotificationPriorityHigh:
		return "🟠"
	case database.NotificationPriorityMedium:
		return "🟡"
	case database.NotificationPriorityLow:
		return "🟢"
	default:
		return "⚠️"
	}
}
