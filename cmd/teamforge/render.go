package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	apiclient "github.com/splax/teamforge/pkg/api/client"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5A50A"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

func renderTeam(team apiclient.Team, capacity apiclient.Capacity) string {
	lines := []string{
		headingStyle.Render(fmt.Sprintf("#%d %s", team.Number, team.Name)),
		mutedStyle.Render(team.ID),
		"",
		fmt.Sprintf("status    %s", team.Status),
		fmt.Sprintf("seats     %d/%d members, %d pending, %d free", capacity.Current, capacity.Max, capacity.Pending, capacity.Available),
	}
	if team.ProjectID != "" {
		lines = append(lines, fmt.Sprintf("project   %s", team.ProjectID))
	}
	if team.GuideID != "" {
		lines = append(lines, fmt.Sprintf("guide     %s", team.GuideID))
	}
	lines = append(lines, "", "members")
	for _, id := range team.Members {
		label := "  " + id
		if id == team.LeaderID {
			label += mutedStyle.Render(" (leader)")
		}
		lines = append(lines, label)
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderInvitations(invitations []apiclient.Invitation) string {
	if len(invitations) == 0 {
		return mutedStyle.Render("no invitations")
	}
	rows := []string{headingStyle.Render(fmt.Sprintf("%-36s  %-24s  %-9s  %s", "ID", "INVITEE", "STATUS", "EXPIRES"))}
	for _, inv := range invitations {
		who := inv.DisplayName
		if who == "" {
			who = inv.Invitee.Email
		}
		rows = append(rows, fmt.Sprintf("%-36s  %-24s  %s  %s",
			inv.ID, truncate(who, 24), statusStyle(inv.Status).Render(fmt.Sprintf("%-9s", inv.Status)), inv.ExpiresAt.Local().Format("2006-01-02 15:04")))
	}
	return strings.Join(rows, "\n")
}

func renderProjects(projects []apiclient.Project) string {
	if len(projects) == 0 {
		return mutedStyle.Render("no projects")
	}
	rows := []string{headingStyle.Render(fmt.Sprintf("%-20s  %-32s  %-16s  %s", "ID", "TITLE", "FIELD", "STATE"))}
	for _, p := range projects {
		state := okStyle.Render("open")
		if p.IsAssigned {
			state = mutedStyle.Render("taken by " + p.TeamID)
		}
		rows = append(rows, fmt.Sprintf("%-20s  %-32s  %-16s  %s", truncate(p.ID, 20), truncate(p.Title, 32), truncate(p.Specialization, 16), state))
	}
	return strings.Join(rows, "\n")
}

func renderConsensus(result apiclient.Consensus) string {
	members := make([]string, 0, len(result.Selections))
	for id := range result.Selections {
		members = append(members, id)
	}
	sort.Strings(members)

	lines := make([]string, 0, len(members)+2)
	if result.HasConsensus {
		lines = append(lines, okStyle.Render("consensus on "+result.ProjectID))
	} else {
		lines = append(lines, warnStyle.Render("no consensus yet"))
	}
	for _, id := range members {
		choice := mutedStyle.Render("(none)")
		if sel := result.Selections[id]; sel != nil {
			choice = *sel
		}
		lines = append(lines, fmt.Sprintf("  %-36s  %s", id, choice))
	}
	return strings.Join(lines, "\n")
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "accepted":
		return okStyle
	case "pending":
		return warnStyle
	default:
		return mutedStyle
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
