package repository

import (
	"context"
	"testing"

	"github.com/brightlane/portal/internal/app/ds"
)

func newTicket(t *testing.T, r *Repository, creator uint) *ds.Ticket {
	t.Helper()
	ticket := &ds.Ticket{CreatorID: creator, Title: "Site is down", Description: "500 on checkout", Status: ds.TicketOpen, Priority: ds.PriorityMedium}
	if err := r.CreateTicket(context.Background(), ticket); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func TestInternalNotesHidden(t *testing.T) {
	r := newTestRepository(t)
	f := seed(t, r)
	ctx := context.Background()
	ticket := newTicket(t, r, f.client.ID)

	if _, err := r.AddComment(ctx, ticket.ID, f.client.ID, "any news?", false, true); err != nil {
		t.Fatalf("client comment: %v", err)
	}
	note, err := r.AddComment(ctx, ticket.ID, f.support.ID, "looks like a config issue", true, false)
	if err != nil {
		t.Fatalf("internal note: %v", err)
	}
	if err := r.CreateAttachment(ctx, &ds.Attachment{TicketID: ticket.ID, TicketUpdateID: &note.ID, UploaderID: f.support.ID, FileName: "trace.txt", ObjectKey: "tickets/1/trace.txt"}); err != nil {
		t.Fatalf("attachment: %v", err)
	}
	if err := r.CreateAttachment(ctx, &ds.Attachment{TicketID: ticket.ID, UploaderID: f.client.ID, FileName: "screen.png", ObjectKey: "tickets/1/screen.png"}); err != nil {
		t.Fatalf("attachment: %v", err)
	}

	clientView, err := r.GetTicket(ctx, ticket.ID, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, u := range clientView.Updates {
		if u.IsInternal {
			t.Fatalf("internal update leaked to client: %+v", u)
		}
	}
	if len(clientView.Updates) != 1 {
		t.Fatalf("client sees %d updates, want 1", len(clientView.Updates))
	}
	if len(clientView.Attachments) != 1 || clientView.Attachments[0].FileName != "screen.png" {
		t.Fatalf("client sees attachments %+v", clientView.Attachments)
	}

	staffView, _ := r.GetTicket(ctx, ticket.ID, true)
	if len(staffView.Updates) != 2 || len(staffView.Attachments) != 2 {
		t.Fatalf("staff sees %d updates, %d attachments", len(staffView.Updates), len(staffView.Attachments))
	}
}

func TestClientCommentReopensWaitingTicket(t *testing.T) {
	r := newTestRepository(t)
	f := seed(t, r)
	ctx := context.Background()
	ticket := newTicket(t, r, f.client.ID)

	if _, err := r.ChangeTicketStatus(ctx, ticket.ID, f.support.ID, ds.TicketWaitingOnClient); err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, err := r.AddComment(ctx, ticket.ID, f.client.ID, "here are the details", false, true); err != nil {
		t.Fatalf("comment: %v", err)
	}

	got, _ := r.GetTicket(ctx, ticket.ID, true)
	if got.Status != ds.TicketOpen {
		t.Fatalf("status = %s, want OPEN", got.Status)
	}

	var changes int
	for _, u := range got.Updates {
		if u.Type == ds.UpdateStatusChange {
			changes++
		}
	}
	if changes != 2 {
		t.Fatalf("expected 2 status change entries, got %d", changes)
	}
}

func TestAssignAndPriority(t *testing.T) {
	r := newTestRepository(t)
	f := seed(t, r)
	ctx := context.Background()
	ticket := newTicket(t, r, f.client.ID)

	got, err := r.AssignTicket(ctx, ticket.ID, f.admin.ID, &f.support)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.AssigneeID == nil || *got.AssigneeID != f.support.ID {
		t.Fatalf("assignee not set: %v", got.AssigneeID)
	}

	got, err = r.ChangeTicketPriority(ctx, ticket.ID, f.admin.ID, ds.PriorityUrgent)
	if err != nil {
		t.Fatalf("priority: %v", err)
	}
	if got.Priority != ds.PriorityUrgent {
		t.Fatalf("priority = %s", got.Priority)
	}

	last := got.Updates[len(got.Updates)-1]
	if last.Type != ds.UpdatePriorityChange || last.OldValue != "MEDIUM" || last.NewValue != "URGENT" {
		t.Fatalf("unexpected last update: %+v", last)
	}

	mine, _ := r.ListTickets(ctx, TicketFilter{AssigneeID: &f.support.ID})
	if len(mine) != 1 {
		t.Fatalf("expected 1 assigned ticket, got %d", len(mine))
	}
}
