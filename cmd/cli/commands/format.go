package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jakechorley/relief-coordination/pkg/core/board"
	"github.com/jakechorley/relief-coordination/pkg/core/model"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorDim    = "\033[2m"
)

// statusColor picks the color a resource status is printed in
func statusColor(status model.ResourceStatus, open, addressing, closed string) string {
	switch status {
	case model.StatusOpen:
		return open
	case model.StatusAddressing:
		return addressing
	}
	return closed
}

// formatAge renders how long ago something happened in the coarsest unit
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	}
	return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
}

// cardNote is the hint shown next to a board card, matching what the
// dashboard shows on its buttons
func cardNote(c board.Card, actorID string) string {
	switch {
	case c.Resource.OwnerID == actorID:
		return ""
	case c.HasResponded:
		if c.Resource.Type == model.ResourceNeed {
			return "you offered to help"
		}
		return "you requested this"
	case c.Resource.Type == model.ResourceNeed && c.AlreadyAddressed:
		return "someone else is helping"
	case !c.CanInteract:
		return ""
	case c.Resource.Type == model.ResourceNeed:
		return "can help"
	}
	return "can request"
}

// resourceLine is the one line summary of a resource
func resourceLine(res model.Resource, now time.Time) string {
	var b strings.Builder
	if res.Urgent {
		b.WriteString(colorRed + "[URGENT] " + colorReset)
	}
	color := statusColor(res.Status, colorGreen, colorYellow, colorDim)
	fmt.Fprintf(&b, "%s (%s/%s) - %s - %s%s%s %s",
		res.Title,
		res.Type,
		res.Category,
		res.Location,
		color, res.Status, colorReset,
		colorDim+formatAge(now.Sub(res.Timestamp))+colorReset,
	)
	return b.String()
}

// printResource prints the full detail of one resource
func printResource(w io.Writer, res model.Resource) {
	fmt.Fprintf(w, "ID:       %s\n", res.ID)
	fmt.Fprintf(w, "Type:     %s\n", res.Type)
	fmt.Fprintf(w, "Category: %s\n", res.Category)
	fmt.Fprintf(w, "Title:    %s\n", res.Title)
	if res.Description != "" {
		fmt.Fprintf(w, "Details:  %s\n", res.Description)
	}
	location := res.Location
	if res.LocationDetails != "" {
		location += " (" + res.LocationDetails + ")"
	}
	fmt.Fprintf(w, "Location: %s\n", location)
	if res.Contact != "" {
		contact := res.Contact
		if res.ContactName != "" {
			contact = res.ContactName + ", " + contact
		}
		fmt.Fprintf(w, "Contact:  %s\n", contact)
	}
	fmt.Fprintf(w, "Urgent:   %t\n", res.Urgent)
	fmt.Fprintf(w, "Status:   %s\n", res.Status)
	if res.AssignedTo != "" {
		assigned := res.AssignedTo
		if res.AssignedName != "" {
			assigned = res.AssignedName + " (" + res.AssignedTo + ")"
		}
		fmt.Fprintf(w, "Assigned: %s\n", assigned)
	}
}

// printBoard renders a board with the unread notification count
func printBoard(w io.Writer, b *board.Board, unread int, now time.Time) {
	if !b.Actor.IsAuthenticated() {
		fmt.Fprintln(w, "\nSign in (--as and --role) to see your board.")
		return
	}

	fmt.Fprintf(w, "\nBoard for %s (%s)", b.Actor.DisplayName(), b.Actor.Role)
	if unread > 0 {
		fmt.Fprintf(w, " - %s%d unread%s", colorYellow, unread, colorReset)
	}
	fmt.Fprintln(w)

	heading := "Offers you can request"
	if b.Actor.Role.IsResponder() {
		heading = "Needs you can help with"
	}
	printCards(w, heading, b.Available, b.Actor.ID, now)
	printCards(w, "Your posts", b.Mine, b.Actor.ID, now)

	fmt.Fprintf(w, "\nYour responses (%d):\n", len(b.Responses))
	if len(b.Responses) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, r := range b.Responses {
		fmt.Fprintf(w, "  - %s [%s] %s %s\n", r.Title, r.Kind, r.Status, colorDim+formatAge(now.Sub(r.Time))+colorReset)
	}
}

func printCards(w io.Writer, heading string, cards []board.Card, actorID string, now time.Time) {
	fmt.Fprintf(w, "\n%s (%d):\n", heading, len(cards))
	if len(cards) == 0 {
		fmt.Fprintln(w, "  none")
		return
	}
	for _, c := range cards {
		line := fmt.Sprintf("  - %s  %s", c.Resource.ID, resourceLine(c.Resource, now))
		if note := cardNote(c, actorID); note != "" {
			line += "  <" + note + ">"
		}
		fmt.Fprintln(w, line)
	}
}
